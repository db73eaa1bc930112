// Package export moves telemetry log entries in and out of the store.
//
// Exports are CSV (the default) or JSON. Both carry one record per log entry:
//
//	logtime,device,duration,temperature,status
//	1700000000,Kitchen ERV,300,20.5,"{""Drive"":""ON"",""FanSpeed"":""LOW""}"
//
// Temperatures are written in degrees with one decimal, which is exactly what
// the store keeps. Status is the key-sorted JSON snapshot, empty when absent.
//
// Imports accept either format and replay every record through the same
// Ingest path the poller uses, so device registration and the run-length
// rules stay in one place. A record of duration d becomes a forced reading at
// its logtime followed, when d > 1, by an equal reading at logtime+d-1; the
// second extends the entry the first created, so a re-imported export yields
// the same entries. Replaying an export twice is a no-op.
//
// Import runs inside WithReducedDurability, which on SQLite turns off fsync
// until the import returns. The import checks its context between records:
// cancelling it (the importer binary wires SIGINT to this) stops after the
// current record with everything before it committed.
//
// Rows that fail validation are skipped and reported in ImportResult.Errors;
// a storage failure aborts the import.
package export
