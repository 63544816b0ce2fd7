package models

// FilenameKey is the metadata field listing each batch item's source file.
const FilenameKey = "filename_or_obj"

// Batch describes one unit of work flowing through the engine. Input
// volumes are loaded by the step function from the listed sources.
type Batch struct {
	// Meta holds per-batch metadata. Meta[FilenameKey] is a []string
	// with one source path per item.
	Meta map[string]any
}

// NewBatch returns a batch listing the given source files.
func NewBatch(filenames ...string) Batch {
	return Batch{Meta: map[string]any{FilenameKey: filenames}}
}

// Filenames returns the source paths recorded in the batch metadata.
// The second result is false when the field is absent or not a string list.
func (b Batch) Filenames() ([]string, bool) {
	if b.Meta == nil {
		return nil, false
	}
	switch v := b.Meta[FilenameKey].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, len(v))
		for i, x := range v {
			s, ok := x.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
