package labreport

// Version is set at build time with -ldflags "-X github.com/a-h/labreport.Version=...".
var Version = "dev"
