package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"balltickets/entity"
	"balltickets/ticketing"
)

// TermEnd closes a term. The term is current until Until.
type TermEnd struct {
	Term  string    `yaml:"term" validate:"oneof=MT HT TT"`
	Until time.Time `yaml:"until" validate:"required"`
}

type TicketTypeFile struct {
	Slug      string       `yaml:"slug" validate:"required"`
	Name      string       `yaml:"name" validate:"required"`
	Price     entity.Money `yaml:"price" validate:"gte=0"`
	AdminOnly bool         `yaml:"admin_only"`
}

type PostageFile struct {
	Slug         string       `yaml:"slug" validate:"required"`
	Name         string       `yaml:"name" validate:"required"`
	Price        entity.Money `yaml:"price" validate:"gte=0"`
	NeedsAddress bool         `yaml:"needs_address"`
}

// File is the on-disk shape of the ball settings.
type File struct {
	// TicketTTL is how long a reserved ticket waits for payment.
	TicketTTL           time.Duration    `yaml:"ticket_ttl" validate:"gt=0"`
	Capacity            int              `yaml:"capacity" validate:"gte=0"`
	PerPersonLimit      int              `yaml:"per_person_limit" validate:"gte=1"`
	Lockdown            bool             `yaml:"lockdown"`
	SalesOpen           bool             `yaml:"sales_open"`
	CancellationEnabled bool             `yaml:"cancellation_enabled"`
	WaitingListOpen     bool             `yaml:"waiting_list_open"`
	WaitingListType     string           `yaml:"waiting_list_type" validate:"required"`
	Terms               []TermEnd        `yaml:"terms" validate:"dive"`
	TicketTypes         []TicketTypeFile `yaml:"ticket_types" validate:"required,min=1,dive"`
	Postage             []PostageFile    `yaml:"postage" validate:"dive"`
}

var validate = validator.New()

// Validate checks the file is internally consistent.
func (f File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	types := map[string]bool{}
	for _, tt := range f.TicketTypes {
		if types[tt.Slug] {
			return fmt.Errorf("invalid settings: ticket type %q is defined twice", tt.Slug)
		}
		types[tt.Slug] = true
	}
	if !types[f.WaitingListType] {
		return fmt.Errorf("invalid settings: waiting list type %q is not a ticket type", f.WaitingListType)
	}

	postage := map[string]bool{}
	for _, p := range f.Postage {
		if postage[p.Slug] {
			return fmt.Errorf("invalid settings: postage option %q is defined twice", p.Slug)
		}
		postage[p.Slug] = true
	}

	for i := 1; i < len(f.Terms); i++ {
		if !f.Terms[i].Until.After(f.Terms[i-1].Until) {
			return fmt.Errorf("invalid settings: term %s must end after term %s", f.Terms[i].Term, f.Terms[i-1].Term)
		}
	}

	return nil
}

// Parse decodes and validates a settings document. Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	var f File

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return File{}, fmt.Errorf("could not decode settings: %w", err)
	}

	sort.SliceStable(f.Terms, func(i, j int) bool { return f.Terms[i].Until.Before(f.Terms[j].Until) })

	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Settings holds the current settings file and resolves a snapshot of it for
// every operation. It is safe for concurrent use; Reload and SetLockdown
// only affect snapshots taken afterwards.
type Settings struct {
	path string

	mu   sync.RWMutex
	file File
}

func NewSettings(file File) *Settings {
	return &Settings{file: file}
}

// LoadSettings reads the settings file at path.
func LoadSettings(path string) (*Settings, error) {
	file, err := readFile(path)
	if err != nil {
		return nil, err
	}

	s := NewSettings(file)
	s.path = path
	return s, nil
}

func readFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("could not read settings file: %w", err)
	}
	return Parse(data)
}

// Reload re-reads the file the settings were loaded from. A broken file
// leaves the previous settings in place.
func (s *Settings) Reload() error {
	if s.path == "" {
		return fmt.Errorf("settings were not loaded from a file")
	}

	file, err := readFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// lockdown set at runtime survives a reload
	file.Lockdown = file.Lockdown || s.file.Lockdown
	s.file = file
	return nil
}

func (s *Settings) SetLockdown(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Lockdown = on
}

func (s *Settings) Snapshot(now time.Time) ticketing.Settings {
	s.mu.RLock()
	f := s.file
	s.mu.RUnlock()

	snapshot := ticketing.Settings{
		Now:                 now,
		TicketTTL:           f.TicketTTL,
		CurrentTerm:         currentTerm(f.Terms, now),
		Lockdown:            f.Lockdown,
		SalesOpen:           f.SalesOpen,
		CancellationEnabled: f.CancellationEnabled,
		WaitingListOpen:     f.WaitingListOpen,
		Capacity:            f.Capacity,
		PerPersonLimit:      f.PerPersonLimit,
		WaitingListType:     f.WaitingListType,
		TicketTypes:         make(map[string]ticketing.TicketType, len(f.TicketTypes)),
		Postage:             make(map[string]ticketing.PostageOption, len(f.Postage)),
	}
	for _, tt := range f.TicketTypes {
		snapshot.TicketTypes[tt.Slug] = ticketing.TicketType{
			Slug:      tt.Slug,
			Name:      tt.Name,
			Price:     tt.Price,
			AdminOnly: tt.AdminOnly,
		}
	}
	for _, p := range f.Postage {
		snapshot.Postage[p.Slug] = ticketing.PostageOption{
			Slug:         p.Slug,
			Name:         p.Name,
			Price:        p.Price,
			NeedsAddress: p.NeedsAddress,
		}
	}

	return snapshot
}

// currentTerm returns the first term that has not ended yet. terms is sorted
// by end.
func currentTerm(terms []TermEnd, now time.Time) entity.Term {
	for _, t := range terms {
		if now.Before(t.Until) {
			return entity.Term(t.Term)
		}
	}
	return entity.NoTerm
}
