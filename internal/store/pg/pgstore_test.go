package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"postdesk.io/internal/authz"
	"postdesk.io/internal/collab"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestInTxCommitsOnSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("insert into teams").WithArgs("T1", "Desk", "", "U1", now, now).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into team_members").WithArgs("T1", "U1", "u1@example.com", "owner", now).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(tx collab.Tx) error {
		if err := tx.InsertTeam(context.Background(), collab.Team{ID: "T1", Name: "Desk", CreatedBy: "U1", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return tx.InsertMembership(context.Background(), collab.Membership{TeamID: "T1", UserID: "U1", Email: "u1@example.com", Role: authz.RoleOwner, JoinedAt: now})
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(tx collab.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConditionalUpdateConflicts(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update teams set name").WithArgs("T1", int64(3), "New", "", now).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from teams").WithArgs("T1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(tx collab.Tx) error {
		return tx.UpdateTeam(context.Background(), collab.Team{ID: "T1", Name: "New", UpdatedAt: now, Version: 3})
	})
	if !errors.Is(err, collab.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestConditionalDeleteMissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from team_members").WithArgs("T1", "U2", int64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from team_members").WithArgs("T1", "U2").WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(tx collab.Tx) error {
		return tx.DeleteMembership(context.Background(), collab.Membership{TeamID: "T1", UserID: "U2", Version: 1})
	})
	if !errors.Is(err, collab.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConstraintViolationsMapToKinds(t *testing.T) {
	cases := []struct {
		name string
		code string
		want error
	}{
		{"unique", pgErrUniqueViolation, collab.ErrConflict},
		{"serialization", pgErrSerialization, collab.ErrConflict},
		{"foreign key", pgErrForeignKeyViolation, collab.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectBegin()
			mock.ExpectExec("insert into approvals").WillReturnError(&pgconn.PgError{Code: tc.code, ConstraintName: "approvals_pending_post_idx"})
			mock.ExpectRollback()

			err := store.InTx(context.Background(), func(tx collab.Tx) error {
				return tx.InsertApproval(context.Background(), collab.Approval{ID: "A1", TeamID: "T1", PostID: "P", Status: collab.ApprovalPending, CreatedAt: time.Now()})
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestGetApprovalNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from approvals where id").WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(tx collab.Tx) error {
		_, err := tx.GetApproval(context.Background(), "missing")
		return err
	})
	if !errors.Is(err, collab.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActivityRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	cursor := &collab.ActivityCursor{CreatedAt: at, Seq: 10}

	mock.ExpectBegin()
	mock.ExpectQuery("insert into activity").
		WithArgs("R1", "T1", "U1", "approval.requested", "approval", "A1", []byte(`{"post_id":"P"}`), at).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(11)))
	mock.ExpectQuery(`from activity\s+where team_id=\$1 and \(created_at, seq\) < \(\$2, \$3\)`).
		WithArgs("T1", at, int64(10), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "team_id", "actor_id", "action", "entity_type", "entity_id", "metadata", "created_at", "seq"}).
			AddRow("R0", "T1", "U1", "team.created", "team", "T1", []byte(`{"name":"Desk"}`), at, int64(9)))
	mock.ExpectCommit()

	var (
		appended collab.ActivityRecord
		listed   []collab.ActivityRecord
	)
	err := store.InTx(context.Background(), func(tx collab.Tx) error {
		var err error
		appended, err = tx.AppendActivity(context.Background(), collab.ActivityRecord{
			ID: "R1", TeamID: "T1", ActorID: "U1", Action: "approval.requested",
			EntityType: "approval", EntityID: "A1", Metadata: map[string]string{"post_id": "P"}, CreatedAt: at,
		})
		if err != nil {
			return err
		}
		listed, err = tx.ListActivity(context.Background(), "T1", 2, cursor)
		return err
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if appended.Seq != 11 {
		t.Fatalf("expected seq 11, got %d", appended.Seq)
	}
	if len(listed) != 1 || listed[0].Metadata["name"] != "Desk" || listed[0].Seq != 9 {
		t.Fatalf("unexpected listing: %+v", listed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
