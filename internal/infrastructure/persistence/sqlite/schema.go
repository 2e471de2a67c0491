package sqlite

// schemaVersion is recorded in PRAGMA user_version after the schema applied.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS students (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS materials (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS enrollments (
    material_id TEXT NOT NULL REFERENCES materials(id) ON DELETE CASCADE,
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    PRIMARY KEY (material_id, student_id)
);

CREATE TABLE IF NOT EXISTS arcs_answers (
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    dimension TEXT NOT NULL CHECK (dimension IN ('A', 'R', 'C', 'S')),
    question_index INTEGER NOT NULL CHECK (question_index BETWEEN 1 AND 5),
    value INTEGER NOT NULL CHECK (value BETWEEN 1 AND 5),
    PRIMARY KEY (student_id, dimension, question_index)
);

CREATE TABLE IF NOT EXISTS motivation_profiles (
    id TEXT PRIMARY KEY,
    student_id TEXT NOT NULL UNIQUE REFERENCES students(id) ON DELETE CASCADE,
    attention REAL,
    relevance REAL,
    confidence REAL,
    satisfaction REAL,
    motivation_level TEXT NOT NULL DEFAULT '' CHECK (motivation_level IN ('', 'Low', 'Medium', 'High')),
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS learning_groups (
    id TEXT PRIMARY KEY,
    material_id TEXT NOT NULL REFERENCES materials(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    code TEXT NOT NULL,
    position INTEGER NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_learning_groups_material ON learning_groups(material_id, position);

CREATE TABLE IF NOT EXISTS group_members (
    group_id TEXT NOT NULL REFERENCES learning_groups(id) ON DELETE CASCADE,
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    PRIMARY KEY (group_id, student_id)
);
`
