// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package build

// Kind selects the executor for a command.
type Kind string

const (
	KindCompose             Kind = "compose"
	KindExec                Kind = "exec"
	KindEcho                Kind = "echo"
	KindExport              Kind = "export"
	KindSecret              Kind = "secret"
	KindTest                Kind = "test"
	KindFail                Kind = "fail"
	KindMkdirs              Kind = "mkdirs"
	KindCleanDir            Kind = "cleandir"
	KindDownloadFile        Kind = "downloadFile"
	KindDownloadDir         Kind = "downloadDir"
	KindUploadArtifact      Kind = "uploadArtifact"
	KindGenerateProperty    Kind = "generateProperty"
	KindGenerateTestReport  Kind = "generateTestReport"
	KindReportCurrentStatus Kind = "reportCurrentStatus"
	KindReportCompleting    Kind = "reportCompleting"
	KindPlugin              Kind = "plugin"
)

// Kinds lists every kind the interpreter understands, in a stable order.
var Kinds = []Kind{
	KindCompose, KindExec, KindEcho, KindExport, KindSecret, KindTest,
	KindFail, KindMkdirs, KindCleanDir, KindDownloadFile, KindDownloadDir,
	KindUploadArtifact, KindGenerateProperty, KindGenerateTestReport,
	KindReportCurrentStatus, KindReportCompleting, KindPlugin,
}

// IsKnown reports whether k is one of [Kinds].
func (k Kind) IsKnown() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}
