package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"routeopt/internal/model"
)

// fingerprintInput is the canonical form hashed by Fingerprint. Plan date is left out so
// identical problems on different days share a cache entry.
type fingerprintInput struct {
	Locations   []model.Location  `json:"l"`
	Vehicles    []model.Vehicle   `json:"v"`
	Constraints model.Constraints `json:"c"`
	Objectives  model.Objectives  `json:"o"`
}

// Fingerprint identifies a request by content. Objective weights are normalized first, so
// {1,1,1,0} and {2,2,2,0} hash the same.
func Fingerprint(req *model.OptimizationRequest) string {
	in := fingerprintInput{
		Locations:   req.Locations,
		Vehicles:    req.Vehicles,
		Constraints: req.Constraints,
		Objectives:  req.Objectives.Normalized(),
	}
	// struct fields marshal in declaration order, which keeps the encoding stable
	b, err := json.Marshal(in)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
