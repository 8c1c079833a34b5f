package persistence

import (
	"strconv"
	"time"
)

// plantRow is the `plants` table.
type plantRow struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement"`
	CommonName       string    `gorm:"not null"`
	ScientificName   string    `gorm:"not null"`
	Date             time.Time `gorm:"index;not null"`
	ImageURL         string    `gorm:"not null"`
	HealthStatus     string    `gorm:"not null"`
	DiagnosisSummary string    `gorm:"type:text"`
	FullDiagnosis    string    `gorm:"type:text"`
	Confidence       int
	Location         string
}

func (plantRow) TableName() string {
	return "plants"
}

// cropPlanRow is the `crop_plans` table; Data holds the plan as JSON.
type cropPlanRow struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	CropName  string    `gorm:"index;not null"`
	Data      string    `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (cropPlanRow) TableName() string {
	return "crop_plans"
}

func rowFromDiagnosis(d Diagnosis) plantRow {
	return plantRow{
		CommonName:       d.CommonName,
		ScientificName:   d.ScientificName,
		Date:             d.Date.UTC(),
		ImageURL:         d.ImageURL,
		HealthStatus:     string(d.HealthStatus),
		DiagnosisSummary: d.Summary,
		FullDiagnosis:    d.FullDiagnosis,
		Confidence:       d.Confidence,
		Location:         d.Location,
	}
}

func (r plantRow) diagnosis() Diagnosis {
	return Diagnosis{
		ID:             strconv.FormatUint(r.ID, 10),
		CommonName:     r.CommonName,
		ScientificName: r.ScientificName,
		Date:           r.Date,
		ImageURL:       r.ImageURL,
		HealthStatus:   HealthStatus(r.HealthStatus),
		Summary:        r.DiagnosisSummary,
		FullDiagnosis:  r.FullDiagnosis,
		Confidence:     r.Confidence,
		Location:       r.Location,
	}
}
