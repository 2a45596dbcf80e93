package record

import (
	"regexp"
	"strconv"

	"github.com/tidwall/gjson"
)

var ridPattern = regexp.MustCompile(`^#(-?\d+):(-?\d+)$`)

// ParseRID parses the #cluster:position notation.
func ParseRID(s string) (RID, bool) {
	m := ridPattern.FindStringSubmatch(s)
	if m == nil {
		return RID{}, false
	}
	clusterID, err := strconv.ParseInt(m[1], 10, 16)
	if err != nil {
		return RID{}, false
	}
	position, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return RID{}, false
	}
	return NewRID(int16(clusterID), position), true
}

// ExtractLinks walks a JSON document and collects every RID-shaped
// string value. The fetch-plan evaluator uses it to find linked
// records to push alongside a load.
func ExtractLinks(data []byte) []RID {
	var links []RID
	seen := make(map[RID]struct{})
	walkLinks(gjson.ParseBytes(data), func(rid RID) {
		if _, dup := seen[rid]; dup {
			return
		}
		seen[rid] = struct{}{}
		links = append(links, rid)
	})
	return links
}

func walkLinks(value gjson.Result, emit func(RID)) {
	switch {
	case value.IsObject() || value.IsArray():
		value.ForEach(func(_, child gjson.Result) bool {
			walkLinks(child, emit)
			return true
		})
	case value.Type == gjson.String:
		if rid, ok := ParseRID(value.String()); ok && rid.IsPersistent() {
			emit(rid)
		}
	}
}

// A LinkedCollectionPointer is a bonsai pointer embedded in a document
// under a {"@fileId":..,"@pageIndex":..,"@pageOffset":..} object.
type LinkedCollectionPointer struct {
	FileID     int64
	PageIndex  int64
	PageOffset int32
}

// ExtractCollectionPointers collects the bonsai pointers embedded in a
// JSON document. The ridbag delete hook releases them when the owning
// record dies.
func ExtractCollectionPointers(data []byte) []LinkedCollectionPointer {
	var pointers []LinkedCollectionPointer
	var walk func(gjson.Result)
	walk = func(value gjson.Result) {
		if value.IsObject() {
			fileID := value.Get("@fileId")
			pageIndex := value.Get("@pageIndex")
			if fileID.Exists() && pageIndex.Exists() {
				pointers = append(pointers, LinkedCollectionPointer{
					FileID:     fileID.Int(),
					PageIndex:  pageIndex.Int(),
					PageOffset: int32(value.Get("@pageOffset").Int()),
				})
				return
			}
		}
		if value.IsObject() || value.IsArray() {
			value.ForEach(func(_, child gjson.Result) bool {
				walk(child)
				return true
			})
		}
	}
	walk(gjson.ParseBytes(data))
	return pointers
}
