package versions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source lists the versions known to the website.
type Source interface {
	Versions(ctx context.Context) ([]Version, error)
}

// YAMLSource reads a catalogue file of the form
//
//	versions:
//	  - name: boost-1.60.0
//	    commit: 7a9ef5f...
//	    release_date: "2015-12-17"
type YAMLSource struct {
	Path string
}

type catalogue struct {
	Versions []Version `yaml:"versions"`
}

// Versions implements Source.
func (s YAMLSource) Versions(ctx context.Context) ([]Version, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read version catalogue: %w", err)
	}

	var c catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse version catalogue %s: %w", s.Path, err)
	}

	for i, v := range c.Versions {
		if v.Name == "" {
			return nil, fmt.Errorf("version catalogue %s: entry %d has no name", s.Path, i)
		}
	}
	return c.Versions, nil
}

// SQLiteSource reads the versions_version table. The data column holds the
// GitHub tag payload; the commit is taken from data.commit.sha.
type SQLiteSource struct {
	DB *sql.DB
}

type versionData struct {
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// Versions implements Source.
func (s SQLiteSource) Versions(ctx context.Context) ([]Version, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT name, COALESCE(release_date, ''), data FROM versions_version ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	out := []Version{}
	for rows.Next() {
		var v Version
		var raw string
		if err := rows.Scan(&v.Name, &v.ReleaseDate, &raw); err != nil {
			return nil, err
		}
		var data versionData
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &data); err != nil {
				return nil, fmt.Errorf("version %s: invalid data column: %w", v.Name, err)
			}
		}
		v.Commit = data.Commit.SHA
		out = append(out, v)
	}
	return out, rows.Err()
}

// Upsert records a version in the versions_version table.
func (s SQLiteSource) Upsert(ctx context.Context, v Version) error {
	var data versionData
	data.Commit.SHA = v.Commit
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO versions_version (name, release_date, data) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET release_date = excluded.release_date, data = excluded.data`,
		v.Name, v.ReleaseDate, string(raw))
	if err != nil {
		return fmt.Errorf("failed to upsert version %s: %w", v.Name, err)
	}
	return nil
}
