// Package tool defines the tools the agent can execute on behalf of a caller.
//
// The package is split by concern:
//   - manifest: per-tool input contracts (FieldSpec)
//   - validate: input validation against a contract
//   - registry: name -> Descriptor lookup
//   - builtins: the fetch_url and summarize tools
//   - error: the structured ToolError taxonomy shared by every tool
//
// Tools never see input that failed validation; callers are expected to run
// Validate before invoking a Handler.
package tool
