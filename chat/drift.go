package chat

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/logger"
)

// MismatchKind classifies a schema drift finding.
type MismatchKind string

const (
	// MismatchMissing means a field the mapper expected was absent.
	MismatchMissing MismatchKind = "MISSING_FIELD"

	// MismatchTypeChange means a field's wire type differs from the type
	// seen when the baseline was learned.
	MismatchTypeChange MismatchKind = "TYPE_CHANGE"
)

// Mismatch is one structural difference between a response and either the
// mapper's expectation or the learned baseline. Path is a dot-joined chain
// of 1-based field numbers ("1.3.2").
type Mismatch struct {
	RPCID string
	Kind  MismatchKind
	Path  string
	Note  string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("schema drift [%s] %s field %s %s", m.Kind, m.RPCID, m.Path, m.Note)
}

// fieldSchema maps field-number paths to wire type names.
type fieldSchema map[string]string

// DriftObserver watches decoded responses for schema drift. The upstream
// reshapes its PBLite documents without notice; a decode that finds nothing
// where a field used to be should degrade to a partial result, not fail, and
// the observer is how those degradations become visible to operators.
//
// Two inputs feed it: the mapper reports expected-but-missing fields
// directly, and Observe learns the field layout of the first response per
// rpc id and flags later type changes against that baseline.
//
// Safe for concurrent use.
type DriftObserver struct {
	log *logger.Logger

	mu        sync.Mutex
	baselines map[string]fieldSchema
	total     uint64
}

// NewDriftObserver creates an observer logging through log (nil disables
// logging; findings are still counted).
func NewDriftObserver(log *logger.Logger) *DriftObserver {
	return &DriftObserver{log: log, baselines: make(map[string]fieldSchema)}
}

// ReportMissing records a field the mapper expected but did not find.
func (o *DriftObserver) ReportMissing(rpcID, path, note string) {
	o.record(Mismatch{RPCID: rpcID, Kind: MismatchMissing, Path: path, Note: note})
}

// Observe learns the document's field layout on the first call per rpc id
// and reports type changes against the baseline on later calls. New fields
// are absorbed into the baseline silently since the upstream adds fields
// constantly.
func (o *DriftObserver) Observe(rpcID string, doc []any) []Mismatch {
	current := make(fieldSchema)
	flattenDoc(doc, "", current)

	o.mu.Lock()
	baseline, ok := o.baselines[rpcID]
	if !ok {
		o.baselines[rpcID] = current
		o.mu.Unlock()
		return nil
	}
	var found []Mismatch
	for path, wireType := range current {
		base, seen := baseline[path]
		if !seen {
			baseline[path] = wireType
			continue
		}
		// null slots toggle as fields come and go per response.
		if base != wireType && base != "null" && wireType != "null" {
			found = append(found, Mismatch{
				RPCID: rpcID,
				Kind:  MismatchTypeChange,
				Path:  path,
				Note:  base + " became " + wireType,
			})
		}
	}
	o.mu.Unlock()

	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	for _, m := range found {
		o.record(m)
	}
	return found
}

// Total returns the number of findings recorded since startup.
func (o *DriftObserver) Total() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total
}

func (o *DriftObserver) record(m Mismatch) {
	o.mu.Lock()
	o.total++
	o.mu.Unlock()
	if o.log != nil {
		o.log.Error(m.String())
	}
}

// flattenDoc walks a PBLite document and records the wire type at every
// field path. Nested arrays are walked one level of field numbering at a
// time; the extension-map object encoding is walked by its numeric keys.
func flattenDoc(v any, prefix string, s fieldSchema) {
	switch val := v.(type) {
	case []any:
		if prefix != "" {
			s[prefix] = "array"
		}
		for i, el := range val {
			flattenDoc(el, joinPath(prefix, i+1), s)
		}
	case map[string]any:
		if prefix != "" {
			s[prefix] = "object"
		}
		for k, el := range val {
			n, err := strconv.Atoi(k)
			if err != nil {
				continue
			}
			flattenDoc(el, joinPath(prefix, n), s)
		}
	case string:
		s[prefix] = "string"
	case float64:
		s[prefix] = "number"
	case bool:
		s[prefix] = "bool"
	case nil:
		s[prefix] = "null"
	}
}

func joinPath(prefix string, field int) string {
	if prefix == "" {
		return strconv.Itoa(field)
	}
	return prefix + "." + strconv.Itoa(field)
}
