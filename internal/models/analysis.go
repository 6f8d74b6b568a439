package models

import (
	"gorm.io/gorm"
)

// SectionType tags a musical section of a song.
type SectionType string

const (
	SectionTypeIntro      SectionType = "intro"
	SectionTypeVerse      SectionType = "verse"
	SectionTypePreChorus  SectionType = "pre_chorus"
	SectionTypeChorus     SectionType = "chorus"
	SectionTypeBridge     SectionType = "bridge"
	SectionTypeDrop       SectionType = "drop"
	SectionTypeBreakdown  SectionType = "breakdown"
	SectionTypeInstrument SectionType = "instrumental"
	SectionTypeOutro      SectionType = "outro"
)

// Section is one contiguous musical segment. Sections in an analysis are
// non-overlapping and cover [0, duration].
type Section struct {
	StartSec   float64     `json:"start_sec"`
	EndSec     float64     `json:"end_sec"`
	Type       SectionType `json:"type"`
	Confidence float64     `json:"confidence"`
	Label      string      `json:"label,omitempty"`
	Lyrics     string      `json:"lyrics,omitempty"`
}

// DurationSec returns the section length in seconds.
func (s Section) DurationSec() float64 {
	return s.EndSec - s.StartSec
}

// MoodVector holds the four mood dimensions, each in [0,1].
type MoodVector struct {
	Energy       float64 `json:"energy"`
	Valence      float64 `json:"valence"`
	Danceability float64 `json:"danceability"`
	Tension      float64 `json:"tension"`
}

// SongAnalysis is the analysis record for a song. Analyses are versioned;
// the highest version is current and supersedes earlier ones.
type SongAnalysis struct {
	BaseModel

	// SongID is the owning song.
	SongID ULID `gorm:"type:varchar(26);not null;index" json:"song_id"`

	// Version increments with each completed analysis; latest wins.
	Version int `gorm:"not null;default:1" json:"version"`

	// BPM is the detected tempo. Nil when undetectable.
	BPM *float64 `json:"bpm,omitempty"`

	// BeatTimes is the strictly increasing beat grid in seconds,
	// contained in [0, duration].
	BeatTimes []float64 `gorm:"serializer:json" json:"beat_times"`

	// Sections is the contiguous section cover of [0, duration].
	Sections []Section `gorm:"serializer:json" json:"sections"`

	// Mood is the computed mood vector. Nil when mood computation failed.
	Mood *MoodVector `gorm:"serializer:json" json:"mood,omitempty"`

	// MoodTags is non-empty whenever Mood is set.
	MoodTags []string `gorm:"serializer:json" json:"mood_tags,omitempty"`

	// Genre is the primary genre. Nil when unclassifiable.
	Genre *string `json:"genre,omitempty"`

	// Waveform is the amplitude summary, 512-2048 buckets in [0,1],
	// each bucket the max amplitude of its window.
	Waveform []float64 `gorm:"serializer:json" json:"waveform"`
}

// TableName returns the table name for SongAnalysis.
func (SongAnalysis) TableName() string {
	return "song_analyses"
}

// SectionAt returns the section containing t, or nil if none does.
func (a *SongAnalysis) SectionAt(t float64) *Section {
	for i := range a.Sections {
		if t >= a.Sections[i].StartSec && t < a.Sections[i].EndSec {
			return &a.Sections[i]
		}
	}
	if n := len(a.Sections); n > 0 && t == a.Sections[n-1].EndSec {
		return &a.Sections[n-1]
	}
	return nil
}

// BeatsIn returns the beat times that fall within [start, end).
func (a *SongAnalysis) BeatsIn(start, end float64) []float64 {
	var out []float64
	for _, bt := range a.BeatTimes {
		if bt >= start && bt < end {
			out = append(out, bt)
		}
	}
	return out
}

// Validate performs basic validation on the analysis.
func (a *SongAnalysis) Validate() error {
	if a.SongID.IsZero() {
		return ErrValidation{Field: "song_id", Message: "is required"}
	}
	for i := 1; i < len(a.BeatTimes); i++ {
		if a.BeatTimes[i] <= a.BeatTimes[i-1] {
			return ErrValidation{Field: "beat_times", Message: "must be strictly increasing"}
		}
	}
	for i := 1; i < len(a.Sections); i++ {
		if a.Sections[i].StartSec != a.Sections[i-1].EndSec {
			return ErrValidation{Field: "sections", Message: "must be contiguous"}
		}
	}
	if a.Mood != nil && len(a.MoodTags) == 0 {
		return ErrValidation{Field: "mood_tags", Message: "must be non-empty when mood is set"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the analysis and generates its ID.
func (a *SongAnalysis) BeforeCreate(tx *gorm.DB) error {
	if err := a.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if a.Version < 1 {
		a.Version = 1
	}
	return a.Validate()
}
