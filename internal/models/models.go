package models

import (
	"time"

	"github.com/google/uuid"
)

// Country is where a user farms.
type Country string

const (
	CountryKenya Country = "Kenya"
	CountryOther Country = "Other"
)

// Role describes how a user relates to the crops they photograph.
type Role string

const (
	RoleFarmer           Role = "farmer"
	RoleExtensionOfficer Role = "extension_officer"
	RoleResearcher       Role = "researcher"
)

// User is a registered person submitting photos
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Country   Country   `json:"country"`
	County    *string   `json:"county"`
	Role      Role      `json:"role"`
	Consent   bool      `json:"consent"`
	CreatedAt time.Time `json:"created_at"`
}

// UserInput is the writable part of a user.
type UserInput struct {
	Name    string  `json:"name" binding:"required,max=100"`
	Country Country `json:"country" binding:"required,oneof=Kenya Other"`
	County  *string `json:"county" binding:"omitempty,max=50"`
	Role    Role    `json:"role" binding:"required,oneof=farmer extension_officer researcher"`
	Consent bool    `json:"consent"`
}

// Crop is a plant species the model covers
type Crop struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// CropInput is the writable part of a crop.
type CropInput struct {
	Name        string  `json:"name" binding:"required,max=100"`
	Description *string `json:"description"`
}

// CropDisease is a named disease of one crop
type CropDisease struct {
	ID         int     `json:"id"`
	CropID     int     `json:"crop"`
	CropName   string  `json:"crop_name,omitempty"`
	Name       string  `json:"name"`
	Symptoms   *string `json:"symptoms"`
	Prevention *string `json:"prevention"`
}

// CropDiseaseInput is the writable part of a disease.
type CropDiseaseInput struct {
	CropID     int     `json:"crop" binding:"required,min=1"`
	Name       string  `json:"name" binding:"required,max=100"`
	Symptoms   *string `json:"symptoms"`
	Prevention *string `json:"prevention"`
}

// DiseaseTreatment is one recommended product for a disease
type DiseaseTreatment struct {
	ID                         int    `json:"id"`
	DiseaseID                  int    `json:"disease"`
	CropID                     int    `json:"crop"`
	DrugName                   string `json:"drug_name"`
	AdministrationInstructions string `json:"administration_instructions"`
}

// DiseaseTreatmentInput is the writable part of a treatment.
type DiseaseTreatmentInput struct {
	DiseaseID                  int    `json:"disease" binding:"required,min=1"`
	CropID                     int    `json:"crop" binding:"required,min=1"`
	DrugName                   string `json:"drug_name" binding:"required,max=100"`
	AdministrationInstructions string `json:"administration_instructions" binding:"required"`
}

// Diagnosis is a persisted prediction outcome
type Diagnosis struct {
	ID                uuid.UUID          `json:"id"`
	UserID            *uuid.UUID         `json:"user_id,omitempty"`
	ImagePath         string             `json:"image_path"`
	PredictedClass    string             `json:"predicted_class"`
	ConfidencePercent float64            `json:"confidence_percent"`
	ExplanationPath   string             `json:"explanation_image_path"`
	Degenerate        bool               `json:"degenerate"`
	Treatments        []DiseaseTreatment `json:"treatments,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// CountryCount is one row of the per-country user breakdown.
type CountryCount struct {
	Country Country `json:"country"`
	Total   int     `json:"total"`
}

// CountyCount is one row of the per-county user breakdown.
type CountyCount struct {
	County string `json:"county"`
	Total  int    `json:"total"`
}

// UserStats groups user counts by country and county.
type UserStats struct {
	ByCountry []CountryCount `json:"by_country"`
	ByCounty  []CountyCount  `json:"by_county"`
}

// DiagnosisEvent is published after a diagnosis has been stored.
type DiagnosisEvent struct {
	DiagnosisID       uuid.UUID  `json:"diagnosis_id"`
	UserID            *uuid.UUID `json:"user_id,omitempty"`
	PredictedClass    string     `json:"predicted_class"`
	ConfidencePercent float64    `json:"confidence_percent"`
	Degenerate        bool       `json:"degenerate"`
	OccurredAt        time.Time  `json:"occurred_at"`
}
