// Package workspace resolves the folder a thread runs in and the skill
// directories handed to new sessions.
//
// Skill directories come from two scopes: the global directory under the
// user's home and the workspace-local directory under the workspace root.
// Only directories that exist are passed on. SkillIndex keeps a parsed
// listing of SKILL.md files per directory and drops it when fsnotify
// reports a change.
package workspace
