// Package uuid implements news.IDGenerator with random UUIDs.
package uuid

import "github.com/google/uuid"

// Generator produces v4 UUID strings.
type Generator struct{}

// New constructs a Generator.
func New() *Generator { return &Generator{} }

// NewID returns a fresh UUID string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
