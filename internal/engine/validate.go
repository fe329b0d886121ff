package engine

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"routeopt/internal/apperr"
	"routeopt/internal/model"
)

var (
	validateOnce sync.Once
	validateInst *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validateInst = validator.New()
		validateInst.RegisterTagNameFunc(jsonName)
	})
	return validateInst
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// ValidateRequest checks structure first, then coordinates and id uniqueness. Coordinate
// failures carry the offending index.
func ValidateRequest(req *model.OptimizationRequest) error {
	if req == nil {
		return apperr.InvalidInput("request is required")
	}
	if err := requestValidator().Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperr.InvalidInput("%s failed %s validation", fe.Namespace(), fe.Tag())
		}
		return apperr.InvalidInput("%v", err)
	}
	for i, loc := range req.Locations {
		if loc.Point != nil && !loc.Point.Valid() {
			return apperr.InvalidLocation(i, loc.Point.Lat, loc.Point.Lng)
		}
	}
	for _, v := range req.Vehicles {
		if !v.Start.Valid() {
			return apperr.InvalidInput("vehicle %s has an invalid start point", v.ID)
		}
		if v.End != nil && !v.End.Valid() {
			return apperr.InvalidInput("vehicle %s has an invalid end point", v.ID)
		}
	}
	if id, ok := duplicate(len(req.Locations), func(i int) string { return req.Locations[i].ID }); ok {
		return apperr.InvalidInput("duplicate location id %q", id)
	}
	if id, ok := duplicate(len(req.Vehicles), func(i int) string { return req.Vehicles[i].ID }); ok {
		return apperr.InvalidInput("duplicate vehicle id %q", id)
	}
	return nil
}

func duplicate(n int, id func(int) string) (string, bool) {
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		k := id(i)
		if _, ok := seen[k]; ok {
			return k, true
		}
		seen[k] = struct{}{}
	}
	return "", false
}
