package worker

import "errors"

// errInvalidPageJSON marks a grading response that didn't decode as the
// requested JSON shape (spec's PARSE_INVALID_JSON failure class, scoped to
// GradingWorker's own page responses rather than RubricParser's).
var errInvalidPageJSON = errors.New("worker: invalid page grading response")
