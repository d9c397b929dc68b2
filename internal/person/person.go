// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

// Package person manages person records under persons/{id}. Every write is
// an atomic commit: creation asserts the new key is absent, and updates and
// deletes are conditioned on the versionstamp that was read. A commit that
// loses a race is reported as ErrConflict and never retried.
package person

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/freshkv/freshkv/internal/id"
	"github.com/freshkv/freshkv/internal/kv"
	"github.com/freshkv/freshkv/pkg/errutil"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("person not found")
	ErrConflict = errors.New("person was modified by another request")
)

// Person is a stored person record.
type Person struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Infected  bool      `json:"infected"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Fields carries caller-supplied values. A nil field is absent: Create
// requires all of them, Update leaves absent ones unchanged.
type Fields struct {
	Name     *string
	Age      *int
	Infected *bool
}

var namespace = kv.Key{"persons"}

func personKey(id string) kv.Key {
	return kv.Key{"persons", id}
}

// Service reads and writes person records.
type Service struct {
	store kv.Store
	now   func() time.Time
}

// NewService creates a Service over store. A nil now uses time.Now.
func NewService(store kv.Store, now func() time.Time) (*Service, error) {
	if store == nil {
		return nil, oops.Code("PERSON_INVALID_DEPENDENCY").Errorf("store is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, now: now}, nil
}

// List returns every person, most recently created first.
func (s *Service) List(ctx context.Context) ([]Person, error) {
	entries, err := s.store.List(ctx, namespace)
	if err != nil {
		return nil, oops.Code("PERSON_LIST_FAILED").Wrap(err)
	}
	persons := make([]Person, 0, len(entries))
	for _, e := range entries {
		var p Person
		if err := e.Decode(&p); err != nil {
			return nil, oops.Code("PERSON_LIST_FAILED").With("key", e.Key.String()).Wrap(err)
		}
		persons = append(persons, p)
	}
	slices.SortStableFunc(persons, func(a, b Person) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	return persons, nil
}

// Get returns the person with the given id.
func (s *Service) Get(ctx context.Context, personID string) (*Person, error) {
	p, _, err := s.read(ctx, personID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create validates fields and stores a new person.
func (s *Service) Create(ctx context.Context, fields Fields) (*Person, error) {
	if fields.Name == nil || strings.TrimSpace(*fields.Name) == "" {
		return nil, errutil.Invalid("name", "Name is required and must be a string")
	}
	if fields.Age == nil || *fields.Age < 0 {
		return nil, errutil.Invalid("age", "Age is required and must be a positive number")
	}
	if fields.Infected == nil {
		return nil, errutil.Invalid("infected", "Infected status is required and must be a boolean")
	}

	now := s.now()
	p := &Person{
		ID:        id.New(now),
		Name:      strings.TrimSpace(*fields.Name),
		Age:       *fields.Age,
		Infected:  *fields.Infected,
		CreatedAt: now,
		UpdatedAt: now,
	}
	record, err := kv.Marshal(p)
	if err != nil {
		return nil, oops.Code("PERSON_CREATE_FAILED").Wrap(err)
	}

	_, err = kv.NewAtomic(s.store).
		Check(personKey(p.ID), "").
		Set(personKey(p.ID), record).
		Commit(ctx)
	if errors.Is(err, kv.ErrCheckFailed) {
		return nil, oops.Code("PERSON_CONFLICT").With("person_id", p.ID).Wrap(ErrConflict)
	}
	if err != nil {
		return nil, oops.Code("PERSON_CREATE_FAILED").With("person_id", p.ID).Wrap(err)
	}
	return p, nil
}

// Update applies the present fields to the stored record. The write only
// lands if the record is unchanged since it was read; otherwise the result
// is ErrConflict.
func (s *Service) Update(ctx context.Context, personID string, fields Fields) (*Person, error) {
	if personID == "" {
		return nil, errutil.Invalid("id", "ID is required for updates")
	}

	current, entry, err := s.read(ctx, personID)
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.UpdatedAt = s.now()
	if fields.Name != nil {
		name := strings.TrimSpace(*fields.Name)
		if name == "" {
			return nil, errutil.Invalid("name", "Name must be a non-empty string")
		}
		updated.Name = name
	}
	if fields.Age != nil {
		if *fields.Age < 0 {
			return nil, errutil.Invalid("age", "Age must be a positive number")
		}
		updated.Age = *fields.Age
	}
	if fields.Infected != nil {
		updated.Infected = *fields.Infected
	}

	record, err := kv.Marshal(&updated)
	if err != nil {
		return nil, oops.Code("PERSON_UPDATE_FAILED").With("person_id", personID).Wrap(err)
	}
	_, err = kv.NewAtomic(s.store).CheckEntry(entry).Set(personKey(personID), record).Commit(ctx)
	if errors.Is(err, kv.ErrCheckFailed) {
		return nil, oops.Code("PERSON_CONFLICT").With("person_id", personID).Wrap(ErrConflict)
	}
	if err != nil {
		return nil, oops.Code("PERSON_UPDATE_FAILED").With("person_id", personID).Wrap(err)
	}
	return &updated, nil
}

// Delete removes the person, conditioned on the record being unchanged
// since it was read.
func (s *Service) Delete(ctx context.Context, personID string) error {
	if personID == "" {
		return errutil.Invalid("id", "ID parameter is required")
	}

	_, entry, err := s.read(ctx, personID)
	if err != nil {
		return err
	}

	_, err = kv.NewAtomic(s.store).CheckEntry(entry).Delete(personKey(personID)).Commit(ctx)
	if errors.Is(err, kv.ErrCheckFailed) {
		return oops.Code("PERSON_CONFLICT").With("person_id", personID).Wrap(ErrConflict)
	}
	if err != nil {
		return oops.Code("PERSON_DELETE_FAILED").With("person_id", personID).Wrap(err)
	}
	return nil
}

func (s *Service) read(ctx context.Context, personID string) (*Person, kv.Entry, error) {
	entry, err := s.store.Get(ctx, personKey(personID))
	if err != nil {
		return nil, kv.Entry{}, oops.Code("PERSON_GET_FAILED").With("person_id", personID).Wrap(err)
	}
	if !entry.Exists() {
		return nil, kv.Entry{}, oops.Code("PERSON_NOT_FOUND").With("person_id", personID).Wrap(ErrNotFound)
	}
	var p Person
	if err := entry.Decode(&p); err != nil {
		return nil, kv.Entry{}, oops.Code("PERSON_GET_FAILED").With("person_id", personID).Wrap(err)
	}
	return &p, entry, nil
}
