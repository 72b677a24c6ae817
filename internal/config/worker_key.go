package config

type WorkerKeyStruct struct {
	PersistAuditQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAuditQueue: "persist_attempt_audit_queue",
}
