package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/offerwatch/internal/offer"
)

type SubscriberFile struct {
	Subscribers []SubscriberEntry `yaml:"subscribers"`
}

type SubscriberEntry struct {
	ID       string        `yaml:"id"`
	Debug    bool          `yaml:"debug"`
	Criteria CriteriaEntry `yaml:"criteria"`
}

type CriteriaEntry struct {
	Category    string   `yaml:"category"`
	RentUntil   *float64 `yaml:"rent_until"`
	MinRooms    *int     `yaml:"min_rooms"`
	PostalCodes []string `yaml:"postal_codes"`
}

// ErrKeyNotFound is returned by SubscriberStore.Get for a missing path.
var ErrKeyNotFound = errors.New("key not found")

// SubscriberStore reads subscribers.yaml. Every call re-reads the file so
// edits take effect on the next cycle without a restart.
type SubscriberStore struct {
	path string
}

func NewSubscriberStore(path string) *SubscriberStore {
	return &SubscriberStore{path: path}
}

// Get returns the raw YAML value at keys. Sequence elements are addressed by
// their "id" field.
func (s *SubscriberStore) Get(keys ...string) (any, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read subscribers: %w", err)
	}

	var root any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse subscribers: %w", err)
	}

	cur := root
	for _, key := range keys {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("get %s: %w", strings.Join(keys, "."), ErrKeyNotFound)
			}
			cur = v
		case []any:
			found := false
			for _, item := range node {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if fmt.Sprint(m["id"]) == key {
					cur = m
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("get %s: %w", strings.Join(keys, "."), ErrKeyNotFound)
			}
		default:
			return nil, fmt.Errorf("get %s: %w", strings.Join(keys, "."), ErrKeyNotFound)
		}
	}
	return cur, nil
}

// Subscribers reads and validates every subscriber.
func (s *SubscriberStore) Subscribers() ([]offer.Subscriber, error) {
	return LoadSubscribers(s.path)
}

// LoadSubscribers reads a subscribers YAML file and validates it.
func LoadSubscribers(path string) ([]offer.Subscriber, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("subscribers path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subscribers: %w", err)
	}

	var sf SubscriberFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse subscribers: %w", err)
	}

	subs, err := convertSubscribers(sf.Subscribers)
	if err != nil {
		return nil, fmt.Errorf("validate subscribers: %w", err)
	}
	return subs, nil
}

func convertSubscribers(entries []SubscriberEntry) ([]offer.Subscriber, error) {
	seen := make(map[string]bool, len(entries))
	subs := make([]offer.Subscriber, 0, len(entries))

	for i, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("subscribers[%d]: id is required", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("subscribers[%d]: duplicate id %q", i, id)
		}
		seen[id] = true

		cat, err := offer.ParseCategory(e.Criteria.Category)
		if err != nil {
			return nil, fmt.Errorf("subscribers[%d]: %w", i, err)
		}
		if e.Criteria.RentUntil == nil {
			return nil, fmt.Errorf("subscribers[%d]: criteria.rent_until is required", i)
		}
		if *e.Criteria.RentUntil < 0 {
			return nil, fmt.Errorf("subscribers[%d]: criteria.rent_until must not be negative", i)
		}
		if e.Criteria.MinRooms != nil && *e.Criteria.MinRooms < 0 {
			return nil, fmt.Errorf("subscribers[%d]: criteria.min_rooms must not be negative", i)
		}

		var codes []string
		for _, c := range e.Criteria.PostalCodes {
			c = strings.TrimSpace(c)
			if len(c) != 5 || strings.Trim(c, "0123456789") != "" {
				return nil, fmt.Errorf("subscribers[%d]: invalid postal code %q", i, c)
			}
			codes = append(codes, c)
		}

		subs = append(subs, offer.Subscriber{
			ID:    id,
			Debug: e.Debug,
			Criteria: offer.Criteria{
				Category:    cat,
				RentUntil:   *e.Criteria.RentUntil,
				MinRooms:    e.Criteria.MinRooms,
				PostalCodes: codes,
			},
		})
	}

	return subs, nil
}
