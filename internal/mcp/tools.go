package mcp

import "github.com/mark3labs/mcp-go/mcp"

const nameDesc = "Dataset name: letters, digits, dash or underscore"

const indexDesc = "Zero-based position in the flattened view (one slot per block)"

var listToolDef = mcp.NewTool("dataset_list",
	mcp.WithDescription("List all dataset names, sorted."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var createToolDef = mcp.NewTool("dataset_create",
	mcp.WithDescription("Create a new empty dataset. Fails with ALREADY_EXISTS if the name is taken."),
	mcp.WithString("name", mcp.Required(), mcp.Description(nameDesc)),
)

var recordsToolDef = mcp.NewTool("dataset_records",
	mcp.WithDescription("Return a dataset's blocks, oldest first. A dataset that does not exist returns no records."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("name", mcp.Required(), mcp.Description(nameDesc)),
)

var appendToolDef = mcp.NewTool("dataset_append",
	mcp.WithDescription("Append one turn. The turn joins the last block when traits, mood, emotion and nsfw all match it; otherwise it starts a new block. Creates the dataset if needed."),
	mcp.WithString("name", mcp.Required(), mcp.Description(nameDesc)),
	mcp.WithString("role", mcp.Required(), mcp.Enum("user", "ai"), mcp.Description("Speaker of the turn")),
	mcp.WithString("message", mcp.Required(), mcp.Description("Turn text")),
	mcp.WithObject("traits", mcp.Description("Trait scores keyed by trust, happiness, romantic, sad, angry, lust. Missing keys are 0.")),
	mcp.WithString("mood", mcp.Description("Mood label (default: neutral)")),
	mcp.WithString("emotion", mcp.Description("Emotion label (default: none)")),
	mcp.WithNumber("nsfw", mcp.Description("NSFW level, 0 or greater (default: 0)")),
	mcp.WithBoolean("encrypt", mcp.Description("Store the message encrypted with the configured passphrase")),
)

var editToolDef = mcp.NewTool("dataset_edit",
	mcp.WithDescription("Rewrite the prompt and/or response of one slot. At least one of prompt or response is required."),
	mcp.WithString("name", mcp.Required(), mcp.Description(nameDesc)),
	mcp.WithNumber("index", mcp.Required(), mcp.Description(indexDesc)),
	mcp.WithString("prompt", mcp.Description("New text for the block's first user turn")),
	mcp.WithString("response", mcp.Description("New text for the block's first ai turn")),
)

var truncateToolDef = mcp.NewTool("dataset_truncate",
	mcp.WithDescription("Remove the slot at index and everything after it."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("name", mcp.Required(), mcp.Description(nameDesc)),
	mcp.WithNumber("index", mcp.Required(), mcp.Description(indexDesc)),
)

var branchToolDef = mcp.NewTool("dataset_branch",
	mcp.WithDescription("Copy slots 0 through index (inclusive) into a new dataset. The source is unchanged."),
	mcp.WithString("name", mcp.Required(), mcp.Description(nameDesc)),
	mcp.WithNumber("index", mcp.Required(), mcp.Description(indexDesc)),
	mcp.WithString("new_name", mcp.Required(), mcp.Description("Name of the dataset to create")),
)

var exportToolDef = mcp.NewTool("dataset_export",
	mcp.WithDescription("Write a dataset to a file. json matches the stored form, jsonl writes one prompt/response pair per line, yaml writes the block form."),
	mcp.WithString("name", mcp.Required(), mcp.Description(nameDesc)),
	mcp.WithString("format", mcp.Enum("json", "jsonl", "yaml"), mcp.Description("Output format (default: json)")),
	mcp.WithString("path", mcp.Description("Output path (default: <exports_dir>/<name>-<timestamp>.<ext>)")),
)

var statsToolDef = mcp.NewTool("dataset_stats",
	mcp.WithDescription("Summarize a dataset: block and turn counts, encrypted turns, legacy records and time span."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("name", mcp.Required(), mcp.Description(nameDesc)),
)
