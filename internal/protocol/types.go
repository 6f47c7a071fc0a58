package protocol

// Task is one unit of work handed to a worker process.
//
// The worker receives the serialized Task as its second positional argument:
// the Params map flattened at the top level, plus "method" (the operation id)
// and, when a bound was requested, "numberResults".
type Task struct {
	// ID is assigned by the dispatcher at submission. It never reaches the worker.
	ID string

	Operation  string
	Params     map[string]any
	MaxResults any
}

// Wire keys reserved by the task envelope. Params entries with the same key are
// overwritten when the task is encoded.
const (
	KeyMethod        = "method"
	KeyNumberResults = "numberResults"
)

// NewTask copies params so the returned Task does not alias the caller's map.
func NewTask(operation string, params map[string]any, maxResults any) Task {
	cp := make(map[string]any, len(params))
	for k, v := range params {
		cp[k] = v
	}
	if maxResults == nil {
		if v, ok := cp[KeyNumberResults]; ok {
			maxResults = v
		}
	}
	return Task{
		Operation:  operation,
		Params:     cp,
		MaxResults: maxResults,
	}
}

// Bound returns the effective result bound for the task.
func (t Task) Bound() Bound {
	if t.MaxResults == nil {
		return ParseBound(t.Params[KeyNumberResults])
	}
	return ParseBound(t.MaxResults)
}
