package policy

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asascience/matos/internal/apperror"
)

func newEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	e, err := NewEnforcer(DefaultRules())
	require.NoError(t, err)
	return e
}

var (
	admin     = Actor{ID: "admin-1", Level: LevelAdmin}
	owner     = Actor{ID: "owner-1", Level: LevelResearcher}
	manager   = Actor{ID: "mgr-1", Level: LevelInvestigator}
	reader    = Actor{ID: "reader-1", Level: LevelGeneral}
	stranger  = Actor{ID: "stranger-1", Level: LevelInvestigator}
	anonymous = Actor{}
)

var studyResource = Resource{
	Scoped:   true,
	OwnerID:  "owner-1",
	Managers: []string{"mgr-1"},
	Readers:  []string{"reader-1"},
}

func can(t *testing.T, e *Enforcer, action Action, subject Subject, actor Actor, res Resource) bool {
	t.Helper()
	ok, err := e.Can(action, subject, actor, res)
	require.NoError(t, err)
	return ok
}

func TestDefaultRules_Compile(t *testing.T) {
	e := newEnforcer(t)
	assert.Len(t, e.programs, len(DefaultRules()))
}

func TestReports_GlobalManageIsAdminOnly(t *testing.T) {
	e := newEnforcer(t)
	assert.True(t, can(t, e, Manage, Report, admin, Global))
	assert.False(t, can(t, e, Manage, Report, owner, Global))
	assert.False(t, can(t, e, Manage, Report, anonymous, Global))
}

func TestReports_AnyoneCanCreate(t *testing.T) {
	e := newEnforcer(t)
	assert.True(t, can(t, e, Create, Report, anonymous, Global))
	assert.True(t, can(t, e, Create, Report, reader, Global))
}

func TestReports_UpdateRequiresStudyManagement(t *testing.T) {
	e := newEnforcer(t)
	assert.True(t, can(t, e, Update, Report, admin, Global))
	assert.True(t, can(t, e, Update, Report, owner, studyResource))
	assert.True(t, can(t, e, Destroy, Report, manager, studyResource))
	assert.False(t, can(t, e, Update, Report, reader, studyResource))
	assert.False(t, can(t, e, Destroy, Report, stranger, studyResource))
	assert.False(t, can(t, e, Update, Report, owner, Global), "unmatched reports are admin-only")
}

func TestStudies_ReadAndManage(t *testing.T) {
	e := newEnforcer(t)
	assert.True(t, can(t, e, Read, Study, reader, studyResource))
	assert.True(t, can(t, e, Read, Study, manager, studyResource))
	assert.False(t, can(t, e, Read, Study, stranger, studyResource))
	assert.False(t, can(t, e, Manage, Study, reader, studyResource))
	assert.True(t, can(t, e, Manage, Study, manager, studyResource))
	assert.True(t, can(t, e, Manage, Study, admin, studyResource))
	assert.False(t, can(t, e, Manage, Study, owner, Global))
}

func TestAnonymousNeverMatchesEmptyOwner(t *testing.T) {
	e := newEnforcer(t)
	res := Resource{Scoped: true}
	assert.False(t, can(t, e, Manage, Study, anonymous, res))
	assert.False(t, can(t, e, Read, Deployment, anonymous, res))
}

func TestSubmissions_CreateNeedsInvestigator(t *testing.T) {
	e := newEnforcer(t)
	assert.True(t, can(t, e, Create, Submission, manager, studyResource))
	assert.False(t, can(t, e, Create, Submission, owner, studyResource), "owner is only a researcher")
	assert.True(t, can(t, e, Create, Submission, admin, studyResource))
}

func TestSubmissions_SubmitterCanDestroy(t *testing.T) {
	e := newEnforcer(t)
	res := studyResource
	res.SubmitterID = "stranger-1"
	assert.True(t, can(t, e, Destroy, Submission, stranger, res))
}

func TestUnknownRuleDenies(t *testing.T) {
	e := newEnforcer(t)
	assert.False(t, can(t, e, Action("fly"), Report, admin, Global))
}

func TestAuthorize_MapsToAppErrors(t *testing.T) {
	e := newEnforcer(t)
	require.NoError(t, e.Authorize(Manage, Report, admin, Global))

	err := e.Authorize(Manage, Report, reader, Global)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, apperror.SafeCode(err))
}

func TestNewEnforcer_RejectsBadRule(t *testing.T) {
	_, err := NewEnforcer(map[string]string{"read:Report": "actor.level >>> 1"})
	assert.Error(t, err)
}

func TestNewDefaultEnforcer_AppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`"manage:Report": "actor.level >= 3"`+"\n"), 0o600))

	e, err := NewDefaultEnforcer(path)
	require.NoError(t, err)
	assert.True(t, can(t, e, Manage, Report, manager, Global))
	assert.False(t, can(t, e, Manage, Report, owner, Global))
}

func TestNewDefaultEnforcer_MissingFile(t *testing.T) {
	_, err := NewDefaultEnforcer(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
