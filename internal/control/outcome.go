package control

import "fmt"

// StartOutcome is the interpretation of the start action's result code.
// The concrete types below are the only implementations.
type StartOutcome interface {
	Result() int
	String() string
	startOutcome()
}

type (
	// StartSuccess: the application is serving.
	StartSuccess struct{}
	// StartNoDatabase: no database is configured for the application.
	StartNoDatabase struct{}
	// StartSchemaOutOfSync: the database schema needs DDL before start.
	StartSchemaOutOfSync struct{}
	// StartMissingConstants: required configuration constants are unset.
	StartMissingConstants struct{}
	// StartInvalidScheduledEvents: scheduled events cannot be registered.
	StartInvalidScheduledEvents struct{}
	// StartInvalidState: the runtime is not in a state that allows start.
	StartInvalidState struct{}
	// StartLicenseRejected: the license does not cover this deployment.
	StartLicenseRejected struct{}
	// StartLicenseExpired: the license is past its end date.
	StartLicenseExpired struct{}
	// StartAdminUserMissing: no administrative application user exists.
	StartAdminUserMissing struct{}
	// StartUnknown carries any code this client does not know.
	StartUnknown struct{ Code int }
)

// StartOutcomeOf maps a result code of the start action.
func StartOutcomeOf(code int) StartOutcome {
	switch code {
	case 0:
		return StartSuccess{}
	case 2:
		return StartNoDatabase{}
	case 3:
		return StartSchemaOutOfSync{}
	case 4:
		return StartMissingConstants{}
	case 5:
		return StartInvalidScheduledEvents{}
	case 6:
		return StartInvalidState{}
	case 7:
		return StartLicenseRejected{}
	case 8:
		return StartLicenseExpired{}
	case 9:
		return StartAdminUserMissing{}
	default:
		return StartUnknown{Code: code}
	}
}

func (StartSuccess) Result() int                { return 0 }
func (StartNoDatabase) Result() int             { return 2 }
func (StartSchemaOutOfSync) Result() int        { return 3 }
func (StartMissingConstants) Result() int       { return 4 }
func (StartInvalidScheduledEvents) Result() int { return 5 }
func (StartInvalidState) Result() int           { return 6 }
func (StartLicenseRejected) Result() int        { return 7 }
func (StartLicenseExpired) Result() int         { return 8 }
func (StartAdminUserMissing) Result() int       { return 9 }
func (u StartUnknown) Result() int              { return u.Code }

func (StartSuccess) String() string          { return "success" }
func (StartNoDatabase) String() string       { return "no database configured" }
func (StartSchemaOutOfSync) String() string  { return "database schema out of sync" }
func (StartMissingConstants) String() string { return "missing configuration constants" }
func (StartInvalidScheduledEvents) String() string {
	return "invalid scheduled events"
}
func (StartInvalidState) String() string     { return "runtime in invalid state" }
func (StartLicenseRejected) String() string  { return "license rejected" }
func (StartLicenseExpired) String() string   { return "license expired" }
func (StartAdminUserMissing) String() string { return "administrative user missing" }
func (u StartUnknown) String() string        { return fmt.Sprintf("unknown result %d", u.Code) }

func (StartSuccess) startOutcome()                {}
func (StartNoDatabase) startOutcome()             {}
func (StartSchemaOutOfSync) startOutcome()        {}
func (StartMissingConstants) startOutcome()       {}
func (StartInvalidScheduledEvents) startOutcome() {}
func (StartInvalidState) startOutcome()           {}
func (StartLicenseRejected) startOutcome()        {}
func (StartLicenseExpired) startOutcome()         {}
func (StartAdminUserMissing) startOutcome()       {}
func (StartUnknown) startOutcome()                {}

// OutcomeLabel is a stable, low-cardinality name for metrics and history.
func OutcomeLabel(o StartOutcome) string {
	switch o.(type) {
	case StartSuccess:
		return "success"
	case StartNoDatabase:
		return "no_database"
	case StartSchemaOutOfSync:
		return "schema_out_of_sync"
	case StartMissingConstants:
		return "missing_constants"
	case StartInvalidScheduledEvents:
		return "invalid_scheduled_events"
	case StartInvalidState:
		return "invalid_state"
	case StartLicenseRejected:
		return "license_rejected"
	case StartLicenseExpired:
		return "license_expired"
	case StartAdminUserMissing:
		return "admin_user_missing"
	default:
		return "unknown"
	}
}
