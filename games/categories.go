/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import (
	"encoding/json"
	"fmt"
)

// Category is one of the fixed answer slots shared by every room.
type Category int

const (
	CategoryName Category = iota
	CategorySurname
	CategoryPlace
	CategoryAnimalBird
	CategoryThing
	CategoryMovie
	CategoryFruitFlower
	CategoryColorDish

	numCategories
)

// Categories lists every category in display order.
var Categories = [numCategories]Category{
	CategoryName,
	CategorySurname,
	CategoryPlace,
	CategoryAnimalBird,
	CategoryThing,
	CategoryMovie,
	CategoryFruitFlower,
	CategoryColorDish,
}

var categoryKeys = [numCategories]string{
	"name",
	"surname",
	"place",
	"animalBird",
	"thing",
	"movie",
	"fruitFlower",
	"colorDish",
}

func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryKeys[c]
}

// ParseCategory maps a wire key such as "animalBird" to its Category.
func ParseCategory(key string) (Category, error) {
	for i, k := range categoryKeys {
		if k == key {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, key)
}

func (c Category) MarshalText() ([]byte, error) {
	if c < 0 || c >= numCategories {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, int(c))
	}
	return []byte(categoryKeys[c]), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// AnswerSet holds one free-text answer per category. Unset categories are empty.
type AnswerSet [numCategories]string

// Get returns the answer for c.
func (a AnswerSet) Get(c Category) string {
	return a[c]
}

func (a AnswerSet) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, numCategories)
	for _, c := range Categories {
		m[categoryKeys[c]] = a[c]
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts an object keyed by category. Unknown keys are ignored
// and non-string values are treated as empty.
func (a *AnswerSet) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var out AnswerSet
	for key, v := range raw {
		c, err := ParseCategory(key)
		if err != nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[c] = s
		}
	}
	*a = out
	return nil
}

// CategoryPoints holds one point value per category.
type CategoryPoints [numCategories]int

// Sum totals the points across every category.
func (p CategoryPoints) Sum() int {
	total := 0
	for _, v := range p {
		total += v
	}
	return total
}

func (p CategoryPoints) MarshalJSON() ([]byte, error) {
	m := make(map[string]int, numCategories)
	for _, c := range Categories {
		m[categoryKeys[c]] = p[c]
	}
	return json.Marshal(m)
}

func (p *CategoryPoints) UnmarshalJSON(b []byte) error {
	var raw map[string]int
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var out CategoryPoints
	for key, v := range raw {
		c, err := ParseCategory(key)
		if err != nil {
			continue
		}
		out[c] = v
	}
	*p = out
	return nil
}
