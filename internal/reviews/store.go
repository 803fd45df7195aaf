package reviews

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/boostorg/boost-archives/pkg/logger"
)

const (
	RoleSubmitter = "submitter"
	RoleManager   = "manager"
)

// managerNeeded is the placeholder shown while a review has no manager.
const managerNeeded = "needed!"

// Link is one person attached to a review.
type Link struct {
	Submission string
	Role       string
	Name       Name
}

// Store persists reviews in the SQLite database opened by package database.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewStore wraps an open database.
func NewStore(db *sql.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{db: db, logger: log}
}

// Save upserts all reviews in one transaction, keyed by submission and
// submitter. The results of a past review are replaced by the parsed ones.
func (s *Store) Save(ctx context.Context, upcoming, past []Review) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin review import: %w", err)
	}
	defer tx.Rollback()

	for _, rv := range past {
		id, err := upsertReview(ctx, tx, rv)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM versions_reviewresult WHERE review_id = ?`, id); err != nil {
			return fmt.Errorf("clear results for %s: %w", rv.Submission, err)
		}
		for _, res := range rv.Results {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO versions_reviewresult (review_id, short_description, announcement_link, is_most_recent)
VALUES (?, ?, ?, ?)`, id, res.ShortDescription, res.AnnouncementLink, res.IsMostRecent); err != nil {
				return fmt.Errorf("insert result for %s: %w", rv.Submission, err)
			}
		}
	}

	for _, rv := range upcoming {
		if _, err := upsertReview(ctx, tx, rv); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit review import: %w", err)
	}
	s.logger.WithFields(logger.Fields{"upcoming": len(upcoming), "past": len(past)}).Info("Reviews saved")
	return nil
}

func upsertReview(ctx context.Context, tx *sql.Tx, rv Review) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
INSERT INTO versions_review (submission, submitter_raw, review_manager_raw, review_dates, github_link, documentation_link)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(submission, submitter_raw) DO UPDATE SET
  review_manager_raw = excluded.review_manager_raw,
  review_dates = excluded.review_dates,
  github_link = excluded.github_link,
  documentation_link = excluded.documentation_link
RETURNING id`,
		rv.Submission, rv.SubmitterRaw, rv.ReviewManagerRaw, rv.ReviewDates, rv.GithubLink, rv.DocumentationLink,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save review %s: %w", rv.Submission, err)
	}
	return id, nil
}

// LinkPeople attaches the people named in every stored review: all
// submitters and the first listed manager. With dryRun the links are only
// computed. The returned slice lists every link made or planned.
func (s *Store) LinkPeople(ctx context.Context, dryRun bool) ([]Link, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin people linking: %w", err)
	}
	defer tx.Rollback()

	type row struct {
		id                                int64
		submission, submitters, managers string
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, submission, submitter_raw, review_manager_raw FROM versions_review ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.submission, &r.submitters, &r.managers); err != nil {
			rows.Close()
			return nil, err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	links := []Link{}
	for _, r := range all {
		for _, n := range ParseNames(r.submitters) {
			links = append(links, Link{Submission: r.submission, Role: RoleSubmitter, Name: n})
			if !dryRun {
				if err := linkPerson(ctx, tx, r.id, RoleSubmitter, n); err != nil {
					return nil, err
				}
			}
		}

		if r.managers == "" || strings.EqualFold(r.managers, managerNeeded) {
			continue
		}
		managers := ParseNames(r.managers)
		if len(managers) == 0 {
			continue
		}
		n := managers[0]
		links = append(links, Link{Submission: r.submission, Role: RoleManager, Name: n})
		if dryRun {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM versions_reviewperson WHERE review_id = ? AND role = ?`, r.id, RoleManager); err != nil {
			return nil, fmt.Errorf("clear manager for %s: %w", r.submission, err)
		}
		if err := linkPerson(ctx, tx, r.id, RoleManager, n); err != nil {
			return nil, err
		}
	}

	if dryRun {
		return links, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit people linking: %w", err)
	}
	s.logger.WithField("links", len(links)).Info("Review people linked")
	return links, nil
}

func linkPerson(ctx context.Context, tx *sql.Tx, reviewID int64, role string, n Name) error {
	_, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO versions_reviewperson (review_id, role, first_name, last_name)
VALUES (?, ?, ?, ?)`, reviewID, role, n.First, n.Last)
	if err != nil {
		return fmt.Errorf("link %s %q: %w", role, n.String(), err)
	}
	return nil
}

// People returns the links stored for a submission.
func (s *Store) People(ctx context.Context, submission string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT p.role, p.first_name, p.last_name
FROM versions_reviewperson p JOIN versions_review r ON r.id = p.review_id
WHERE r.submission = ?
ORDER BY p.role DESC, p.rowid`, submission)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := []Link{}
	for rows.Next() {
		l := Link{Submission: submission}
		if err := rows.Scan(&l.Role, &l.Name.First, &l.Name.Last); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// Count returns the number of stored reviews and results.
func (s *Store) Count(ctx context.Context) (reviews, results int, err error) {
	err = s.db.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM versions_review), (SELECT COUNT(*) FROM versions_reviewresult)`).Scan(&reviews, &results)
	return reviews, results, err
}
