package rpc

// JSON Schemas for tool arguments. Validation happens at the boundary;
// handlers can assume well-typed input.

const startSessionSchema = `{
  "type": "object",
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "working_directory": {"type": "string"},
    "model": {"type": "string"},
    "auto_approve": {"type": "boolean"},
    "debug": {"type": "boolean"},
    "checkpointing": {"type": "boolean"}
  },
  "required": ["session_id"]
}`

const chatSchema = `{
  "type": "object",
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "message": {"type": "string", "minLength": 1}
  },
  "required": ["session_id", "message"]
}`

const taskStatusSchema = `{
  "type": "object",
  "properties": {
    "task_id": {"type": "string", "minLength": 1}
  },
  "required": ["task_id"]
}`

const respondSchema = `{
  "type": "object",
  "properties": {
    "task_id": {"type": "string", "minLength": 1},
    "response": {"type": "string", "minLength": 1}
  },
  "required": ["task_id", "response"]
}`

const closeSessionSchema = `{
  "type": "object",
  "properties": {
    "session_id": {"type": "string", "minLength": 1}
  },
  "required": ["session_id"]
}`

const listSessionsSchema = `{
  "type": "object",
  "properties": {}
}`

const oneShotSchema = `{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "minLength": 1},
    "model": {"type": "string"},
    "working_directory": {"type": "string"},
    "timeout_s": {"type": "integer", "minimum": 1}
  },
  "required": ["prompt"]
}`

const withFilesSchema = `{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "minLength": 1},
    "files": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1},
    "model": {"type": "string"},
    "working_directory": {"type": "string"},
    "timeout_s": {"type": "integer", "minimum": 1}
  },
  "required": ["prompt", "files"]
}`
