package rubric

import "errors"

// errInvalidJSON marks a response that failed to decode as the requested
// JSON shape (spec's PARSE_INVALID_JSON failure class).
var errInvalidJSON = errors.New("rubric: invalid json response")

// errSemanticViolation marks a response that decoded fine but violated a
// structural invariant (spec's PARSE_SEMANTIC_VIOLATION failure class):
// duplicate question ids, score-sum drift, or a sub-part standing alone.
var errSemanticViolation = errors.New("rubric: semantic violation")
