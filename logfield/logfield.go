package logfield

const (
	DataSource = "dataSource"
	Database   = "database"
	Account    = "account"
	Engine     = "engine"
	Endpoint   = "endpoint"
	Query      = "query"
	TableName  = "tableName"
	StatusCode = "statusCode"
	Retried    = "retried"
	Error      = "error"
)
