package model

import "github.com/akave-ai/clockwork/internal/serializer"

// UserData item presentations understood by the client.
const (
	ShowAsCounters = "counters"
	ShowAsTable    = "table"
	ShowAsData     = "data"
)

// UserDataItem is one block rendered inside a user-defined tab.
type UserDataItem struct {
	ShowAs string `json:"showAs"`
	Title  string `json:"title,omitempty"`
	Data   any    `json:"data"`
}

// UserData is a custom tab of the diagnostics client.
type UserData struct {
	Key   string         `json:"key"`
	Title string         `json:"title,omitempty"`
	Items []UserDataItem `json:"items"`
}

// NewUserData returns an empty tab.
func NewUserData(key string) *UserData {
	return &UserData{Key: key, Items: []UserDataItem{}}
}

// SetTitle sets the tab title shown by the client.
func (u *UserData) SetTitle(title string) *UserData {
	u.Title = title
	return u
}

// Counters adds a block of named numbers.
func (u *UserData) Counters(counters map[string]any) *UserData {
	return u.add(ShowAsCounters, "", serializer.NormalizeMap(counters))
}

// Table adds a titled table; every row is a column-name → value map.
func (u *UserData) Table(title string, rows []map[string]any) *UserData {
	normalized := make([]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, serializer.NormalizeMap(row))
	}
	return u.add(ShowAsTable, title, normalized)
}

// Data adds a free-form value.
func (u *UserData) Data(title string, value any) *UserData {
	return u.add(ShowAsData, title, serializer.Normalize(value))
}

func (u *UserData) add(showAs, title string, data any) *UserData {
	u.Items = append(u.Items, UserDataItem{ShowAs: showAs, Title: title, Data: data})
	return u
}
