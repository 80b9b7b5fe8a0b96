package core

import "time"

// Item is a single listing observed on the marketplace. Two items with the
// same ID are the same listing even if the title or price drifted between
// observations.
type Item struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Price       string `json:"price" yaml:"price"`
	Location    string `json:"location" yaml:"location"`
	URL         string `json:"url" yaml:"url"`
	ImageURL    string `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Term is the search term that produced the item in the current cycle.
	Term string `json:"term,omitempty" yaml:"term,omitempty"`
}

// SeenRecord is the dedupe store's memory of a listing.
type SeenRecord struct {
	ID        string    `json:"-" yaml:"id"`
	FirstSeen time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen  time.Time `json:"last_seen" yaml:"last_seen"`
	Title     string    `json:"title" yaml:"title"`
	Notified  bool      `json:"notified" yaml:"notified"`
}

// UniqueByID drops repeated IDs, keeping the first occurrence of each.
func UniqueByID(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

// IDs returns the item IDs in order.
func IDs(items []Item) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
