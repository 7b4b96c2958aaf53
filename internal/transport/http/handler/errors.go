package handler

const (
	errInternalServer   = "Internal server error"
	errUnauthorized     = "Unauthorized"
	errForbidden        = "Forbidden"
	errRequestNotFound  = "Request not found"
	errJobNotFound      = "Job not found"
	errIndexerNotFound  = "Indexer not found"
	errDuplicateRequest = "An active request for this audiobook already exists"
	errDuplicateIndexer = "An indexer with this name already exists"
	errPlexTokenInvalid = "Plex token is invalid"
	errStateConflict    = "Request state does not allow this action"
)
