// Package scheduler turns cron and interval specs into task engine
// submissions. It only triggers; execution, retries and overlap control live
// in the engine.
package scheduler
