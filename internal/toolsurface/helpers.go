package toolsurface

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"veritas/internal/apierr"
	"veritas/internal/model"
	"veritas/internal/store"
)

func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func stringSliceParam(params map[string]any, key string) ([]string, bool) {
	raw, ok := params[key]
	if !ok {
		return nil, false
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// notFound converts a store.ErrNotFound into a classified apierr, wrapping
// anything else as a storage failure.
func notFound(err error, label string) *apierr.Error {
	if errors.Is(err, store.ErrNotFound) {
		return apierr.New(apierr.KindNotFound, label+" not found")
	}
	return apierr.Wrap(apierr.KindStorageFatal, label+" lookup failed", err)
}

func parseJobKind(s string) (model.JobKind, *apierr.Error) {
	switch model.JobKind(s) {
	case model.JobTargetQueue, model.JobVerifyNLI, model.JobCitationGraph:
		return model.JobKind(s), nil
	default:
		return "", apierr.FieldError("scope", "target_queue|verify_nli|citation_graph", fmt.Sprintf("unknown job kind %q", s))
	}
}

func parseJobKinds(values []string) ([]model.JobKind, *apierr.Error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]model.JobKind, 0, len(values))
	for _, v := range values {
		kind, err := parseJobKind(v)
		if err != nil {
			return nil, err
		}
		out = append(out, kind)
	}
	return out, nil
}

func stringSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (sf *Surface) queryDeadline() time.Duration {
	if sf.cfg == nil || sf.cfg.QueryDeadlineMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(sf.cfg.QueryDeadlineMs) * time.Millisecond
}

func (sf *Surface) queryMaxSteps() int64 {
	if sf.cfg == nil || sf.cfg.QueryMaxVMSteps <= 0 {
		return 5_000_000
	}
	return sf.cfg.QueryMaxVMSteps
}
