package ramadctl

// Indirection layer to allow stubbing in tests

var (
	fnSmoke       = smoke
	fnModelList   = modelList
	fnModelStatus = modelStatus
	fnUpload      = uploadArtifact
	fnInfer       = infer
	fnSuper       = superControl
	fnCheckPorts  = checkPorts
	fnRunGoTests  = runGoTests
)
