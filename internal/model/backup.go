package model

import "time"

// BackupVersion is the only document version Import accepts.
const BackupVersion = "1.0"

type ImportMode string

const (
	ImportMerge   ImportMode = "merge"
	ImportReplace ImportMode = "replace"
)

func (m ImportMode) Valid() bool {
	return m == ImportMerge || m == ImportReplace
}

// BackupDocument is the portable snapshot of the whole local state. Images
// maps a blob id to a data URL ("data:image/jpeg;base64,...").
type BackupDocument struct {
	Version    string            `json:"version" jsonschema:"enum=1.0"`
	ExportDate time.Time         `json:"exportDate"`
	Teas       []Tea             `json:"teas"`
	BrewLogs   []BrewLog         `json:"brewLogs"`
	Images     map[string]string `json:"images"`
}

// ImportResult reports what an import wrote.
type ImportResult struct {
	Mode          ImportMode `json:"mode"`
	TeasAdded     int        `json:"teas_added"`
	BrewLogsAdded int        `json:"brew_logs_added"`
	ImagesWritten int        `json:"images_written"`
}
