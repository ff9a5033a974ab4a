package common

import (
	"fmt"
	"strconv"
	"strings"
)

// ProductionID identifies a production run: {run-uuid}_{aez-id}_{timestamp}
// The run part may itself contain underscores.
type ProductionID string

// ErrMalformedProductionID is returned when the positional parsing of a production id fails
type ErrMalformedProductionID struct {
	ID string
}

func (e ErrMalformedProductionID) Error() string {
	return fmt.Sprintf("malformed production id: %s", e.ID)
}

// AEZ returns the agro-ecological zone id, the second-to-last `_`-separated token.
func (p ProductionID) AEZ() (int, error) {
	tokens := strings.Split(string(p), "_")
	if len(tokens) < 3 {
		return 0, ErrMalformedProductionID{string(p)}
	}
	token := tokens[len(tokens)-2]
	if token == "" || strings.Trim(token, "0123456789") != "" {
		return 0, ErrMalformedProductionID{string(p)}
	}
	aez, err := strconv.Atoi(token)
	if err != nil {
		return 0, ErrMalformedProductionID{string(p)}
	}
	return aez, nil
}

// Owner returns the run part of the production id (all the tokens but the last two)
// It is the user id published with the products.
func (p ProductionID) Owner() (string, error) {
	tokens := strings.Split(string(p), "_")
	if len(tokens) < 3 || tokens[0] == "" {
		return "", ErrMalformedProductionID{string(p)}
	}
	return strings.Join(tokens[:len(tokens)-2], "_"), nil
}

// OwnerFromRoot extracts the owner from the last non-empty segment of a storage root (e.g. s3://ewoc-prd/{production_id}/)
func OwnerFromRoot(root string) (string, error) {
	root = strings.TrimSuffix(root, "/")
	return ProductionID(root[strings.LastIndex(root, "/")+1:]).Owner()
}

func (p ProductionID) String() string {
	return string(p)
}
