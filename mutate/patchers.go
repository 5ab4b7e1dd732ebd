package mutate

import (
	"sync/atomic"
	"time"

	"github.com/dreamfactorysoftware/df-admin-data/resource"
)

var tempCounter atomic.Int64

// TempID returns a client-generated placeholder id for an optimistic create.
// Temp ids are negative so they can never collide with server-assigned ids,
// and unique within the process.
func TempID() int {
	return -int(time.Now().UnixMilli()*1000 + tempCounter.Add(1)%1000)
}

// IsTempID reports whether id is a client-generated placeholder.
func IsTempID(id int) bool { return id < 0 }

// PrependRecord is the optimistic patch for a create: the new record appears
// at the top of the cached page and the total count grows by one.
func PrependRecord(rec resource.Record) func(any) any {
	return func(data any) any {
		page, ok := data.(resource.Page)
		if !ok {
			return data
		}
		out := page.Clone()
		out.Records = append([]resource.Record{rec.Clone()}, out.Records...)
		out.Total++
		return out
	}
}

// RemoveRecord is the optimistic patch for a delete: the matching record is
// dropped from the cached page and the total count shrinks by one.
func RemoveRecord(id int) func(any) any {
	return func(data any) any {
		page, ok := data.(resource.Page)
		if !ok {
			return data
		}
		out := page.Clone()
		kept := out.Records[:0]
		removed := false
		for _, r := range out.Records {
			if r.RecordID() == id {
				removed = true
				continue
			}
			kept = append(kept, r)
		}
		out.Records = kept
		if removed {
			out.Total--
		}
		return out
	}
}

// MergeRecord is the optimistic patch for an update: apply modifies a clone
// of the matching record in place.
func MergeRecord(id int, apply func(resource.Record)) func(any) any {
	return func(data any) any {
		switch v := data.(type) {
		case resource.Page:
			out := v.Clone()
			for i, r := range out.Records {
				if r.RecordID() == id {
					apply(out.Records[i])
				}
			}
			return out
		case resource.Record:
			if v.RecordID() != id {
				return v
			}
			c := v.Clone()
			apply(c)
			return c
		default:
			return data
		}
	}
}

// ReplaceRecord is the optimistic patch for a replacement write: the cached
// record with the same id is swapped for a clone of rec.
func ReplaceRecord(rec resource.Record) func(any) any {
	return func(data any) any {
		switch v := data.(type) {
		case resource.Page:
			out := v.Clone()
			for i, r := range out.Records {
				if r.RecordID() == rec.RecordID() {
					out.Records[i] = rec.Clone()
				}
			}
			return out
		case resource.Record:
			if v.RecordID() != rec.RecordID() {
				return v
			}
			return rec.Clone()
		default:
			return data
		}
	}
}

// ReplaceTempID reconciles a committed create: the placeholder id is swapped
// for the server-assigned one, leaving exactly one copy of the record.
func ReplaceTempID(tempID, serverID int) func(any) any {
	return func(data any) any {
		page, ok := data.(resource.Page)
		if !ok {
			return data
		}
		out := page.Clone()
		for i, r := range out.Records {
			if r.RecordID() == tempID {
				out.Records[i].SetRecordID(serverID)
			}
		}
		return out
	}
}
