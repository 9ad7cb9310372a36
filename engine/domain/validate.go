package domain

import (
	"errors"
	"fmt"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	validSorts = []any{SortRelevance, SortHot, SortTop, SortNew, SortComments}
	validTimes = []any{TimeHour, TimeDay, TimeWeek, TimeMonth, TimeYear, TimeAll}
)

// ValidateSearchQuery normalizes q and checks it. The returned query is the
// one to use: keyword trimmed, limit clamped, enums defaulted.
func ValidateSearchQuery(q SearchQuery) (SearchQuery, error) {
	q = q.Normalized()
	err := validation.ValidateStruct(&q,
		validation.Field(&q.Keyword, validation.Required.Error(ErrMissingKeyword.Error())),
		validation.Field(&q.Limit, validation.Min(MinLimit), validation.Max(MaxLimit)),
		validation.Field(&q.Sort, validation.In(validSorts...)),
		validation.Field(&q.Time, validation.In(validTimes...)),
	)
	if err != nil {
		return q, fromOzzo(err, map[string]fieldInfo{
			"keyword": {ErrMissingKeyword, q.Keyword},
			"sort":    {ErrInvalidSort, string(q.Sort)},
			"time":    {ErrInvalidTime, string(q.Time)},
			"limit":   {ErrInvalidInput, fmt.Sprint(q.Limit)},
		})
	}
	return q, nil
}

type fieldInfo struct {
	sentinel error
	value    string
}

// fromOzzo converts ozzo's per-field error map into a single ValidationError
// for the first failing field (alphabetical, for stable messages).
func fromOzzo(err error, fields map[string]fieldInfo) error {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return NewValidationError("request", "", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return NewValidationError("request", "", ErrInvalidInput)
	}

	name := names[0]
	info, ok := fields[name]
	if !ok {
		return NewValidationError(name, "", fmt.Errorf("%w: %v", ErrInvalidInput, errs[name]))
	}
	return NewValidationError(name, info.value, info.sentinel)
}
