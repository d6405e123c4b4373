// Command clara-cli is a thin request/response client over the
// control plane's AF_UNIX socket, restructured from
// original_source/daemon/tools/cli/main.cpp's single-file if-chain
// onto a cobra.Command tree the way tim-coutinho-agentops/cli and
// AlvifSandana-talpa structure their CLIs, one subcommand per verb.
package main

func main() {
	Execute()
}
