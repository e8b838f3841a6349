package storage

import (
	"path"
	"regexp"
)

const (
	UploadPrefix  = "uploaded/"
	ResultPrefix  = "result/"
	LogPrefix     = "logs/"
	StagingPrefix = "staging/"
)

// UploadKey is where an uploaded dataset is stored.
func UploadKey(name string) string {
	return UploadPrefix + path.Base(name)
}

// ResultKey is where a job result artifact is stored.
func ResultKey(name string) string {
	return ResultPrefix + path.Base(name)
}

// LogKey is where a job log is stored.
func LogKey(name string) string {
	return LogPrefix + path.Base(name)
}

// StagingKey is where a trainer writes an output for a job before it is published.
func StagingKey(jobID, name string) string {
	return StagingPrefix + path.Base(jobID) + "/" + path.Base(name)
}

// StagingPrefixFor is the staging directory of a job.
func StagingPrefixFor(jobID string) string {
	return StagingPrefix + path.Base(jobID) + "/"
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Sanitize maps a name onto a single safe path component. Model choices like
// "Qwen/Qwen2-0.5B" keep both halves.
func Sanitize(name string) string {
	s := unsafeChars.ReplaceAllString(name, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

func ReportName(dataset, model string) string {
	return Sanitize(dataset) + "_" + Sanitize(model) + "_Report.pdf"
}

func ModelBundleName(dataset, model string) string {
	return Sanitize(dataset) + "_" + Sanitize(model) + "_model_and_info.zip"
}

func ClusteringReportName(dataset string) string {
	return Sanitize(dataset) + "_report.pdf"
}

func ClusteringResultsName(dataset string) string {
	return Sanitize(dataset) + "_results.csv"
}

func LogName(dataset string) string {
	return Sanitize(dataset) + "_log.log"
}
