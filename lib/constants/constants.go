package constants

const (
	SSM_PARAMETER_PATH            = "/manicure"
	ALLOWED_ORIGINS               = "/manicure/ALLOWED_ORIGINS"
	DATABASE_RDS_ENDPOINT         = "/manicure/DATABASE_RDS_ENDPOINT"
	DATABASE_PORT                 = "/manicure/DATABASE_PORT"
	DATABASE_NAME                 = "/manicure/DATABASE_NAME"
	DATABASE_USERNAME             = "/manicure/DATABASE_USERNAME"
	DATABASE_PASSWORD             = "/manicure/DATABASE_PASSWORD"
	SSL_MODE                      = "/manicure/SSL_MODE"
	PHOTO_BUCKET                  = "/manicure/PHOTO_BUCKET"
	ANALYSIS_SERVICE_URL          = "/manicure/ANALYSIS_SERVICE_URL"
	ANALYSIS_STEP_TIMEOUT_SECONDS = "/manicure/ANALYSIS_STEP_TIMEOUT_SECONDS"
	DRIVER_NAME                   = "postgres"
	AWS_REGION                    = "us-east-2"
	LOCALSTACK_ENDPOINT           = "http://docker.for.mac.host.internal:4566"
)

// Workflow limits.
const (
	SURVEY_MIN_LENGTH             = 10
	DEFAULT_ANALYSIS_STEP_TIMEOUT = 60 // seconds
	ANALYSIS_FAILURE_RESERVE      = 5  // seconds kept before the invocation deadline
	PHOTO_UPLOAD_URL_EXPIRY       = 15 // minutes
	PHOTO_DOWNLOAD_URL_EXPIRY     = 30 // minutes
)
