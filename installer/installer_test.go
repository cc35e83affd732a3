package installer

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/GoCodeAlone/modctx/container"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type countingLocker struct {
	calls int
	err   error
}

func (l *countingLocker) EnsureLocked(context.Context) error {
	l.calls++
	return l.err
}

type countingInstaller struct {
	runs int
	err  error
}

func (c *countingInstaller) Install(context.Context) error {
	c.runs++
	return c.err
}

type alwaysInstaller struct {
	countingInstaller
}

func (a *alwaysInstaller) AlwaysRun() bool { return true }

func memoryLookup(repo Repository) RepositoryLookup {
	return func(context.Context) (Repository, error) { return repo, nil }
}

func TestID(t *testing.T) {
	assert.Equal(t, "schema", ID("schema"))

	exact := strings.Repeat("a", MaxIDLength)
	assert.Equal(t, exact, ID(exact))

	long := strings.Repeat("a", MaxIDLength+1)
	id := ID(long)
	assert.Len(t, id, 32)
	assert.Equal(t, id, ID(long))
	assert.NotEqual(t, id, ID(long+"b"))
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" FORCE ")
	require.NoError(t, err)
	assert.Equal(t, ActionForce, a)

	_, err = ParseAction("explode")
	assert.ErrorIs(t, err, ErrInvalidAction)

	var parsed Action
	require.NoError(t, parsed.UnmarshalText([]byte("Register")))
	assert.Equal(t, ActionRegister, parsed)
}

func TestSettingsResolve(t *testing.T) {
	md := Metadata{Name: "schema", Group: "schema-group"}
	s := &Settings{
		DefaultAction: ActionSkip,
		Groups:        map[string]Action{"schema-group": ActionRegister},
		Installers:    map[string]Action{"other": ActionForce},
	}
	assert.Equal(t, ActionRegister, s.ActionFor(md))

	s.Rule = func(md Metadata) (Action, bool) { return ActionForce, md.Name == "schema" }
	assert.Equal(t, ActionForce, s.ActionFor(md))

	s.Installers["schema"] = ActionDisabled
	assert.Equal(t, ActionDisabled, s.ActionFor(md))

	assert.Equal(t, ActionSkip, s.ActionFor(Metadata{Name: "unrelated"}))

	var nilSettings *Settings
	assert.Equal(t, ActionExecute, nilSettings.ActionFor(md))
	_, ok := (&Settings{}).Resolve(md)
	assert.False(t, ok)
}

func TestDetermineAction(t *testing.T) {
	md := Metadata{Name: "schema"}
	settings := func(a Action) *Settings { return &Settings{DefaultAction: a} }

	tests := []struct {
		name   string
		ctx    *Settings
		module *Settings
		want   Action
	}{
		{"nothing_configured", nil, nil, ActionExecute},
		{"context_only", settings(ActionSkip), nil, ActionSkip},
		{"module_overrides_context", settings(ActionExecute), settings(ActionForce), ActionForce},
		{"module_overrides_default", nil, settings(ActionRegister), ActionRegister},
		{"context_disabled_vetoes_module", settings(ActionDisabled), settings(ActionForce), ActionDisabled},
		{"module_without_opinion_keeps_context", settings(ActionForce), &Settings{}, ActionForce},
		{"module_may_disable", settings(ActionExecute), settings(ActionDisabled), ActionDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineAction(md, tt.ctx, tt.module, nil))
		})
	}
}

func TestRunnerVersionGate(t *testing.T) {
	tests := []struct {
		name        string
		recorded    int
		action      Action
		wantRuns    int
		wantVersion int
	}{
		{"never_installed", UnknownVersion, ActionExecute, 1, 5},
		{"same_version", 5, ActionExecute, 0, 5},
		{"older_version", 4, ActionExecute, 1, 5},
		{"newer_version", 6, ActionExecute, 0, 6},
		{"force_newer_version", 6, ActionForce, 1, 5},
		{"register_without_running", 2, ActionRegister, 0, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := NewMemoryRepository()
			recordedAt := time.Unix(100, 0)
			if tt.recorded != UnknownVersion {
				require.NoError(t, repo.SetInstalled(ctx, Record{
					Module: "users", Installer: "schema", Version: tt.recorded, UpdatedAt: recordedAt,
				}))
			}

			inst := &countingInstaller{}
			var results []Result
			r := &Runner{
				Settings:   &Settings{DefaultAction: tt.action},
				Repository: memoryLookup(repo),
				Locker:     &countingLocker{},
				OnResult:   func(_ Phase, res Result) { results = append(results, res) },
				now:        func() time.Time { return time.Unix(200, 0) },
			}
			err := r.Run(ctx, BeforeModuleBootstrap, Target{
				Module: "users",
				Installers: []Registration{Static(Metadata{
					Name: "schema", Version: 5, Description: "users schema", Phase: BeforeModuleBootstrap,
				}, inst)},
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantRuns, inst.runs)
			version, err := repo.InstalledVersion(ctx, "users", "schema")
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)

			rec, _ := repo.Record("users", "schema")
			if tt.wantRuns == 0 && tt.action == ActionExecute {
				assert.Equal(t, recordedAt, rec.UpdatedAt, "record must not be rewritten")
			}
			require.Len(t, results, 1)
			assert.Equal(t, tt.wantRuns == 1, results[0].Ran)
		})
	}
}

func TestRunnerSkipsWithoutLocking(t *testing.T) {
	locker := &countingLocker{}
	inst := &countingInstaller{}
	r := &Runner{
		Settings: &Settings{DefaultAction: ActionSkip},
		Locker:   locker,
	}

	err := r.Run(context.Background(), BeforeContextBootstrap, Target{
		Installers: []Registration{
			Static(Metadata{Name: "a", Version: 1, Phase: BeforeContextBootstrap}, inst),
			Static(Metadata{Name: "b", Version: 1, Phase: AfterContextBootstrap}, inst),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, locker.calls)
	assert.Equal(t, 0, inst.runs)
}

func TestRunnerOrderAndPhase(t *testing.T) {
	var order []string
	record := func(name string) Installer {
		return InstallerFunc(func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	locker := &countingLocker{}
	r := &Runner{Repository: memoryLookup(NewMemoryRepository()), Locker: locker}

	err := r.Run(context.Background(), AfterModuleBootstrap, Target{
		Module: "m",
		Installers: []Registration{
			Static(Metadata{Name: "late", Version: 1, Phase: AfterModuleBootstrap, Order: 10}, record("late")),
			Static(Metadata{Name: "first", Version: 1, Phase: AfterModuleBootstrap}, record("first")),
			Static(Metadata{Name: "second", Version: 1, Phase: AfterModuleBootstrap}, record("second")),
			Static(Metadata{Name: "before", Version: 1, Phase: BeforeModuleBootstrap}, record("before")),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "late"}, order)
	assert.Equal(t, 1, locker.calls)
}

func TestRunnerAlwaysRun(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.SetInstalled(ctx, Record{Module: ContextModule, Installer: "seed", Version: 9}))

	inst := &alwaysInstaller{}
	r := &Runner{Repository: memoryLookup(repo)}
	err := r.Run(ctx, AfterContextBootstrap, Target{
		Installers: []Registration{Static(Metadata{Name: "seed", Version: 1, Phase: AfterContextBootstrap}, inst)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inst.runs)
}

func TestRunnerFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("installer_error", func(t *testing.T) {
		boom := errors.New("boom")
		repo := NewMemoryRepository()
		r := &Runner{Repository: memoryLookup(repo)}
		err := r.Run(ctx, BeforeModuleBootstrap, Target{
			Module: "users",
			Installers: []Registration{Static(Metadata{Name: "schema", Version: 1, Phase: BeforeModuleBootstrap},
				&countingInstaller{err: boom})},
		})

		assert.ErrorIs(t, err, ErrInstallerFailed)
		assert.ErrorIs(t, err, boom)
		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, "users", execErr.Module)
		assert.Equal(t, "schema", execErr.Installer)
		assert.Equal(t, BeforeModuleBootstrap, execErr.Phase)

		v, _ := repo.InstalledVersion(ctx, "users", "schema")
		assert.Equal(t, UnknownVersion, v)
	})

	t.Run("lock_error", func(t *testing.T) {
		lockErr := errors.New("lock unavailable")
		r := &Runner{Locker: &countingLocker{err: lockErr}, Repository: memoryLookup(NewMemoryRepository())}
		err := r.Run(ctx, BeforeContextBootstrap, Target{
			Installers: []Registration{Static(Metadata{Name: "a", Version: 1}, &countingInstaller{})},
		})
		assert.ErrorIs(t, err, lockErr)
	})

	t.Run("no_repository", func(t *testing.T) {
		r := &Runner{}
		err := r.Run(ctx, BeforeContextBootstrap, Target{
			Installers: []Registration{Static(Metadata{Name: "a", Version: 1}, &countingInstaller{})},
		})
		assert.ErrorIs(t, err, ErrNoRepository)
	})
}

func TestSQLRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo, err := NewSQLRepository(db, "")
	require.NoError(t, err)
	require.NoError(t, repo.CreateSchema(ctx))
	require.NoError(t, repo.CreateSchema(ctx))

	v, err := repo.InstalledVersion(ctx, "users", "schema")
	require.NoError(t, err)
	assert.Equal(t, UnknownVersion, v)

	longName := strings.Repeat("installer", 20)
	require.NoError(t, repo.SetInstalled(ctx, Record{
		Module: "users", Installer: longName, Version: 3, Description: strings.Repeat("d", 600),
	}))
	require.NoError(t, repo.SetInstalled(ctx, Record{Module: "users", Installer: "schema", Version: 1}))
	require.NoError(t, repo.SetInstalled(ctx, Record{Module: "users", Installer: "schema", Version: 2}))

	v, err = repo.InstalledVersion(ctx, "users", "schema")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = repo.InstalledVersion(ctx, "users", longName)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	records, err := repo.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.LessOrEqual(t, len(rec.Installer), MaxIDLength)
		assert.LessOrEqual(t, len(rec.Description), MaxDescriptionLength)
	}

	_, err = NewSQLRepository(db, "bad-name")
	assert.ErrorIs(t, err, ErrInvalidTableName)
}

func TestTruncateDescription(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantLen int
	}{
		{name: "short", in: "creates the users table", wantLen: 23},
		{name: "ascii", in: strings.Repeat("d", 600), wantLen: MaxDescriptionLength},
		{name: "two byte rune at the limit", in: strings.Repeat("a", 499) + "é", wantLen: 499},
		{name: "three byte runes", in: "a" + strings.Repeat("€", 200), wantLen: 499},
		{name: "rune ends at the limit", in: "aa" + strings.Repeat("€", 200), wantLen: MaxDescriptionLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateDescription(tt.in)
			assert.Len(t, got, tt.wantLen)
			assert.True(t, utf8.ValidString(got))
			assert.True(t, strings.HasPrefix(tt.in, got))
		})
	}
}

func TestSQLScript(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	scope, err := container.NewHierarchy(nil).NewScope(container.ScopeOptions{ID: "ctx", Index: -1, Root: true})
	require.NoError(t, err)
	require.NoError(t, scope.Register(container.Singleton("dataSource", db)))

	t.Run("commits", func(t *testing.T) {
		reg := Script(Metadata{Name: "users"}, "",
			"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)",
			"INSERT INTO users (name) VALUES ('ada')")
		inst, err := reg.Factory(scope)
		require.NoError(t, err)
		require.NoError(t, inst.Install(ctx))

		var count int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count))
		assert.Equal(t, 1, count)
	})

	t.Run("rolls_back", func(t *testing.T) {
		reg := Script(Metadata{Name: "broken"}, "dataSource",
			"CREATE TABLE broken (id INTEGER)",
			"INSERT INTO missing_table VALUES (1)")
		inst, err := reg.Factory(scope)
		require.NoError(t, err)
		assert.Error(t, inst.Install(ctx))

		var name string
		err = db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'broken'").Scan(&name)
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})

	t.Run("missing_database", func(t *testing.T) {
		_, err := Script(Metadata{Name: "x"}, "nope").Factory(scope)
		assert.ErrorIs(t, err, container.ErrBeanNotFound)
	})
}

func TestCoreSchema(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo, err := NewSQLRepository(db, "")
	require.NoError(t, err)

	core := &CoreSchema{Schemas: []SchemaCreator{repo}}
	assert.True(t, core.AlwaysRun())
	require.NoError(t, core.Install(ctx))

	v, err := repo.InstalledVersion(ctx, "m", "i")
	require.NoError(t, err)
	assert.Equal(t, UnknownVersion, v)
}
