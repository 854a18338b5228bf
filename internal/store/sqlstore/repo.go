// Package sqlstore is the relational persistence layer of the chat pipeline.
package sqlstore

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrNoIdentity    = errors.New("sqlstore: conversation has no identity")
	ErrEmptyCart     = errors.New("sqlstore: cart is empty")
	ErrCartChanged   = errors.New("sqlstore: cart changed during checkout")
	ErrAmbiguousSize = errors.New("sqlstore: product has several sizes in cart")
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) DB() *gorm.DB { return r.db }

// IsNotFound reports gorm's not-found sentinel through any wrapping.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// optional turns a not-found error into (nil, nil).
func optional[T any](v *T, err error) (*T, error) {
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}
