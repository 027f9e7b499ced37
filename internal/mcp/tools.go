package mcp

import "github.com/mark3labs/mcp-go/mcp"

var priorityEnum = []string{"critical", "high", "medium", "low"}

var signalListToolDef = mcp.NewTool("signal_list",
	mcp.WithDescription("List signals in the workspace, newest first. All filters are optional and combine with AND."),
	mcp.WithString("conversation_id", mcp.Description("Only signals linked to this conversation")),
	mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("open", "resolved", "dismissed")),
	mcp.WithString("ai_priority", mcp.Description("Filter by the priority the agent assigned"), mcp.Enum(priorityEnum...)),
	mcp.WithString("human_priority", mcp.Description("Filter by the priority a human assigned"), mcp.Enum(priorityEnum...)),
	mcp.WithString("since", mcp.Description("RFC 3339 timestamp; only signals created at or after it")),
	mcp.WithString("until", mcp.Description("RFC 3339 timestamp; only signals created before it")),
	mcp.WithString("keyword", mcp.Description("Case-insensitive substring of the content")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Rows to skip")),
)

var signalCreateToolDef = mcp.NewTool("signal_create",
	mcp.WithDescription("Record one atomic insight. conversation_id and message_id link the signal to the message it came from; give both or neither."),
	mcp.WithString("content", mcp.Required(), mcp.Description("The insight, one or two sentences")),
	mcp.WithString("conversation_id", mcp.Description("Conversation the insight came from")),
	mcp.WithString("message_id", mcp.Description("Message the insight came from")),
	mcp.WithString("ai_priority", mcp.Description("Your assessment of its priority"), mcp.Enum(priorityEnum...)),
	mcp.WithString("source", mcp.Description("Free-form origin label (default \"agent\")")),
)

var signalUpdateToolDef = mcp.NewTool("signal_update",
	mcp.WithDescription("Change a signal's status and/or human priority. Any status may move to any other. Setting human_priority stamps reviewed_at; null clears both."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Signal id")),
	mcp.WithString("status", mcp.Description("New status"), mcp.Enum("open", "resolved", "dismissed")),
	mcp.WithString("human_priority", mcp.Description("New human priority, or null to clear it"), mcp.Enum(priorityEnum...)),
)

var signalDeleteToolDef = mcp.NewTool("signal_delete",
	mcp.WithDescription("Hard-delete a signal. Returns the deleted identity."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Signal id")),
)

var documentListToolDef = mcp.NewTool("document_list",
	mcp.WithDescription("List knowledge documents without content, most recently updated first. Brain and session documents are visible only to their owner."),
	mcp.WithArray("kinds", mcp.Description("Kinds to include (default all): brain, canon, synthesis, session"), mcp.WithStringItems()),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Rows to skip")),
)

var documentGetToolDef = mcp.NewTool("document_get",
	mcp.WithDescription("Fetch one knowledge document with its markdown content."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
)

var documentUpsertToolDef = mcp.NewTool("document_upsert",
	mcp.WithDescription("Create a document (omit id; kind and title required) or update one (give id plus title and/or content). Content changes re-embed the document."),
	mcp.WithString("id", mcp.Description("Document id to update; omit to create")),
	mcp.WithString("kind", mcp.Description("Document kind; fixed at creation"), mcp.Enum("brain", "canon", "synthesis", "session")),
	mcp.WithString("title", mcp.Description("Title, at most 200 characters")),
	mcp.WithString("content", mcp.Description("Markdown body")),
)

var documentDeleteToolDef = mcp.NewTool("document_delete",
	mcp.WithDescription("Hard-delete a document. Returns the deleted identity."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
)

var conversationListToolDef = mcp.NewTool("conversation_list",
	mcp.WithDescription("List your conversations, most recently active first."),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Rows to skip")),
)

var conversationGetToolDef = mcp.NewTool("conversation_get",
	mcp.WithDescription("Fetch one conversation and its full message history, oldest first."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Conversation id")),
)

var knowledgeSearchToolDef = mcp.NewTool("knowledge_search",
	mcp.WithDescription("Semantic search over signals and documents, nearest first."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language query")),
	mcp.WithString("scope", mcp.Description("What to search (default all)"), mcp.Enum("signals", "personal", "shared", "synthesis", "all")),
	mcp.WithNumber("limit", mcp.Description("Maximum hits (default 10, max 50)")),
)

var sessionEndToolDef = mcp.NewTool("session_end",
	mcp.WithDescription("Write a session log document and turn every bullet into a signal. Decisions become medium priority, debt_added high, debt_resolved low, observations unprioritized."),
	mcp.WithString("summary", mcp.Required(), mcp.Description("What the session accomplished")),
	mcp.WithString("title", mcp.Description("Log title (default: the session's timestamp)")),
	mcp.WithArray("decisions", mcp.Description("Decisions made"), mcp.WithStringItems()),
	mcp.WithArray("debt_added", mcp.Description("Shortcuts taken or debt introduced"), mcp.WithStringItems()),
	mcp.WithArray("debt_resolved", mcp.Description("Debt paid down"), mcp.WithStringItems()),
	mcp.WithArray("observations", mcp.Description("Anything else worth remembering"), mcp.WithStringItems()),
)

var sessionOrientToolDef = mcp.NewTool("session_orient",
	mcp.WithDescription("One-call overview: signal counts by status, latest synthesis commit, document count, open signals, synthesis documents and your recent session logs."),
	mcp.WithNumber("limit", mcp.Description("Cap for each list (default 10)")),
)

var synthesisRunToolDef = mcp.NewTool("synthesis_run",
	mcp.WithDescription("Fold all unprocessed signals into the synthesis documents and record a commit. Counts against the usage allowance."),
	mcp.WithNumber("max_signals", mcp.Description("Fold at most this many signals, oldest first (default and max 200)")),
)

var captureSubmitToolDef = mcp.NewTool("capture_submit",
	mcp.WithDescription("Submit a raw update for analysis against the workspace strategy. Returns the artifact, extracted actions and gamification state."),
	mcp.WithString("content", mcp.Required(), mcp.Description("The raw update text")),
	mcp.WithString("source", mcp.Description("Origin label (default \"manual\")")),
)

var captureRefineToolDef = mcp.NewTool("capture_refine",
	mcp.WithDescription("Refine an artifact with feedback. Appends a new artifact to the capture's lineage; the previous one is never changed."),
	mcp.WithString("artifact_id", mcp.Required(), mcp.Description("Artifact to refine")),
	mcp.WithString("feedback", mcp.Required(), mcp.Description("What to improve")),
)

var captureHistoryToolDef = mcp.NewTool("capture_history",
	mcp.WithDescription("Every artifact of a capture, oldest first, plus the current one."),
	mcp.WithString("capture_id", mcp.Required(), mcp.Description("Capture id")),
)

var actionListToolDef = mcp.NewTool("action_list",
	mcp.WithDescription("List extracted actions, newest first."),
	mcp.WithBoolean("mine", mcp.Description("Only your actions")),
	mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("open", "in_progress", "blocked", "done")),
	mcp.WithString("since", mcp.Description("RFC 3339 timestamp; only actions created at or after it")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Rows to skip")),
)

var actionUpdateToolDef = mcp.NewTool("action_update",
	mcp.WithDescription("Set an action's status."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Action id")),
	mcp.WithString("status", mcp.Required(), mcp.Description("New status"), mcp.Enum("open", "in_progress", "blocked", "done")),
)

var digestGenerateToolDef = mcp.NewTool("digest_generate",
	mcp.WithDescription("Generate the ranked Top 5 for a week. Counts against the usage allowance."),
	mcp.WithString("week_of", mcp.Description("Any date in the week, YYYY-MM-DD or RFC 3339 (default: this week)")),
)

var digestLatestToolDef = mcp.NewTool("digest_latest",
	mcp.WithDescription("Fetch the newest digest, optionally for the week containing week_of."),
	mcp.WithString("week_of", mcp.Description("Any date in the week, YYYY-MM-DD or RFC 3339")),
)

var canonGetToolDef = mcp.NewTool("canon_get",
	mcp.WithDescription("Fetch the workspace's current strategy canon, or a specific one by id."),
	mcp.WithString("id", mcp.Description("Canon id (default: current)")),
)
