// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package anki

import (
	"database/sql/driver"
	"encoding/json"
)

// Conf is the collection-wide configuration stored as JSON in col.conf.
type Conf struct {
	NextPos       int    `json:"nextPos"`
	EstimateTimes bool   `json:"estTimes"`
	ActiveDecks   []ID   `json:"activeDecks"`
	SortType      string `json:"sortType"`
	TimeLimit     int    `json:"timeLim"`
	SortBackwards bool   `json:"sortBackwards"`
	AddToCurrent  bool   `json:"addToCur"`
	CurrentDeck   ID     `json:"curDeck"`
	NewBury       bool   `json:"newBury"`
	NewSpread     int    `json:"newSpread"`
	DueCounts     bool   `json:"dueCounts"`
	CurrentModel  string `json:"curModel"`
	CollapseTime  int    `json:"collapseTime"`
	DayLearnFirst bool   `json:"dayLearnFirst"`
}

// Scan implements the sql.Scanner interface for the Conf type.
func (c *Conf) Scan(src interface{}) error { return scanJSON(src, c) }

// Value implements the driver.Valuer interface for the Conf type.
func (c Conf) Value() (driver.Value, error) { return marshalBlob(c) }

// Models is the set of note types, stored as JSON in col.models keyed by the
// stringified model id.
type Models map[ID]*Model

// Scan implements the sql.Scanner interface for the Models type.
func (m *Models) Scan(src interface{}) error { return scanJSON(src, m) }

// Value implements the driver.Valuer interface for the Models type.
func (m Models) Value() (driver.Value, error) { return marshalBlob(m) }

// UnmarshalJSON implements the json.Unmarshaler interface for the Models type.
func (m *Models) UnmarshalJSON(src []byte) error {
	tmp := make(map[string]*Model)
	if err := json.Unmarshal(src, &tmp); err != nil {
		return err
	}
	newMap := make(map[ID]*Model, len(tmp))
	for _, v := range tmp {
		newMap[v.ID] = v
	}
	*m = Models(newMap)
	return nil
}

// MarshalJSON implements the json.Marshaler interface for the Models type.
// Anki keys the object by the decimal model id.
func (m Models) MarshalJSON() ([]byte, error) {
	tmp := make(map[string]*Model, len(m))
	for id, v := range m {
		tmp[id.String()] = v
	}
	return json.Marshal(tmp)
}

// Model is a note type: the field list and the templates that derive cards
// from a note.
type Model struct {
	ID             ID          `json:"id"`
	Name           string      `json:"name"`
	Tags           []string    `json:"tags"`
	DeckID         ID          `json:"did"`
	Fields         []*Field    `json:"flds"`
	SortField      int         `json:"sortf"`
	Templates      []*Template `json:"tmpls"`
	Type           int         `json:"type"`
	LatexPre       string      `json:"latexPre"`
	LatexPost      string      `json:"latexPost"`
	CSS            string      `json:"css"`
	Modified       int64       `json:"mod"`
	Required       [][3]any    `json:"req"`
	UpdateSequence int         `json:"usn"`
	Versions       []int       `json:"vers"`
}

// Field is a single model field definition.
type Field struct {
	Name     string   `json:"name"`
	Sticky   bool     `json:"sticky"`
	RTL      bool     `json:"rtl"`
	Ordinal  int      `json:"ord"`
	Font     string   `json:"font"`
	FontSize int      `json:"size"`
	Media    []string `json:"media"`
}

// Template produces one card per note.
type Template struct {
	Name                  string `json:"name"`
	Ordinal               int    `json:"ord"`
	QuestionFormat        string `json:"qfmt"`
	AnswerFormat          string `json:"afmt"`
	BrowserQuestionFormat string `json:"bqfmt"`
	BrowserAnswerFormat   string `json:"bafmt"`
	DeckOverride          *ID    `json:"did"`
}

// Decks is the deck set, stored as JSON in col.decks keyed by the stringified
// deck id.
type Decks map[ID]*Deck

// Scan implements the sql.Scanner interface for the Decks type.
func (d *Decks) Scan(src interface{}) error { return scanJSON(src, d) }

// Value implements the driver.Valuer interface for the Decks type.
func (d Decks) Value() (driver.Value, error) { return marshalBlob(d) }

// UnmarshalJSON implements the json.Unmarshaler interface for the Decks type.
func (d *Decks) UnmarshalJSON(src []byte) error {
	tmp := make(map[string]*Deck)
	if err := json.Unmarshal(src, &tmp); err != nil {
		return err
	}
	newMap := make(map[ID]*Deck, len(tmp))
	for _, v := range tmp {
		newMap[v.ID] = v
	}
	*d = Decks(newMap)
	return nil
}

// MarshalJSON implements the json.Marshaler interface for the Decks type.
func (d Decks) MarshalJSON() ([]byte, error) {
	tmp := make(map[string]*Deck, len(d))
	for id, v := range d {
		tmp[id.String()] = v
	}
	return json.Marshal(tmp)
}

// Deck is a single deck definition. Names may contain "::" to denote
// hierarchy; the name is stored verbatim.
type Deck struct {
	ID               ID     `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"desc"`
	Modified         int64  `json:"mod"`
	UpdateSequence   int    `json:"usn"`
	Collapsed        bool   `json:"collapsed"`
	BrowserCollapsed bool   `json:"browserCollapsed"`
	ExtendNew        int    `json:"extendNew"`
	ExtendRev        int    `json:"extendRev"`
	Dynamic          int    `json:"dyn"`
	ConfigID         ID     `json:"conf"`
	NewToday         [2]int `json:"newToday"`
	ReviewsToday     [2]int `json:"revToday"`
	LearnToday       [2]int `json:"lrnToday"`
	TimeToday        [2]int `json:"timeToday"`
}

// DeckConfigs is the set of deck option groups, stored as JSON in col.dconf
// keyed by the stringified config id.
type DeckConfigs map[ID]*DeckConfig

// Scan implements the sql.Scanner interface for the DeckConfigs type.
func (dc *DeckConfigs) Scan(src interface{}) error { return scanJSON(src, dc) }

// Value implements the driver.Valuer interface for the DeckConfigs type.
func (dc DeckConfigs) Value() (driver.Value, error) { return marshalBlob(dc) }

// UnmarshalJSON implements the json.Unmarshaler interface for the DeckConfigs
// type.
func (dc *DeckConfigs) UnmarshalJSON(src []byte) error {
	tmp := make(map[string]*DeckConfig)
	if err := json.Unmarshal(src, &tmp); err != nil {
		return err
	}
	newMap := make(map[ID]*DeckConfig, len(tmp))
	for _, v := range tmp {
		newMap[v.ID] = v
	}
	*dc = DeckConfigs(newMap)
	return nil
}

// MarshalJSON implements the json.Marshaler interface for the DeckConfigs
// type.
func (dc DeckConfigs) MarshalJSON() ([]byte, error) {
	tmp := make(map[string]*DeckConfig, len(dc))
	for id, v := range dc {
		tmp[id.String()] = v
	}
	return json.Marshal(tmp)
}

// DeckConfig is a per-deck option group. The scheduler reads the New, Lapse
// and Reviews sections; everything else is carried for client compatibility.
type DeckConfig struct {
	ID               ID           `json:"id"`
	Name             string       `json:"name"`
	ReplayAudio      bool         `json:"replayq"`
	ShowTimer        int          `json:"timer"`
	MaxAnswerSeconds int          `json:"maxTaken"`
	Modified         int64        `json:"mod"`
	AutoPlay         bool         `json:"autoplay"`
	UpdateSequence   int          `json:"usn"`
	Dynamic          int          `json:"dyn"`
	Lapse            LapseConfig  `json:"lapse"`
	Reviews          ReviewConfig `json:"rev"`
	New              NewConfig    `json:"new"`
}

// LapseConfig controls relearning after a review card is forgotten.
type LapseConfig struct {
	LeechFails      int       `json:"leechFails"`
	MinimumInterval int       `json:"minInt"`
	LeechAction     int       `json:"leechAction"`
	Delays          []float64 `json:"delays"`
	Multiplier      float64   `json:"mult"`
}

// ReviewConfig controls interval growth for review cards.
type ReviewConfig struct {
	PerDay         int     `json:"perDay"`
	Fuzz           float64 `json:"fuzz"`
	IntervalFactor float64 `json:"ivlFct"`
	MaxInterval    int     `json:"maxIvl"`
	EasyBonus      float64 `json:"ease4"`
	Bury           bool    `json:"bury"`
	MinSpace       int     `json:"minSpace"`
	HardFactor     float64 `json:"hardFactor"`
}

// NewConfig controls the learning steps for new cards.
type NewConfig struct {
	PerDay        int       `json:"perDay"`
	Delays        []float64 `json:"delays"`
	Bury          bool      `json:"bury"`
	Separate      bool      `json:"separate"`
	Intervals     [3]int    `json:"ints"`
	InitialFactor int       `json:"initialFactor"`
	Order         int       `json:"order"`
}

func marshalBlob(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
