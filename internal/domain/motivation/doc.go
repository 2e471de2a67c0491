// Package motivation contains the student motivation model under ARCS
// (Attention, Relevance, Confidence, Satisfaction).
//
// The package defines:
//
//   - Entities: Student, Profile
//   - Value objects: Dimension, Level, Scores, Answer
//   - The ARCS aggregator: questionnaire answers and CSV rows become score vectors
//   - Repository contracts: StudentDirectory, ProfileRepository
//
// # Architectural principles
//
//  1. Zero external dependencies - only the Go standard library
//  2. Dependency inversion - interfaces here, implementations in infrastructure
//  3. Engines operate on plain value records, never on store handles
//
// # Profiles
//
// A Profile carries an optional score vector and an optional level.
// A profile without scores never has a level, and a profile whose four
// scores are all 0.0 counts as unanalyzed and never enters clustering:
//
//	p := Profile{ID: id, StudentID: sid, Scores: &Scores{4.2, 3.8, 4.0, 3.6}}
//	p.Clusterable() // true
//
// # CSV ingestion
//
// Two layouts are accepted, detected by column presence:
//
//	username,dim_a_q1,...,dim_s_q5            (dimension form, 20 answers)
//	username,attention,relevance,confidence,satisfaction   (direct form)
//
// ParseARCSCSV validates the header, every numeric cell and username
// uniqueness before anything is written.
package motivation
