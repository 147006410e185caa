package relaycontract

// Skill locations.
const (
	// FileSkillMD is the skill definition file name.
	FileSkillMD = "SKILL.md"

	// DirGlobalSkills is the global skill directory relative to $HOME.
	DirGlobalSkills = ".copilot/skills"

	// DirRepoSkills is the workspace-local skill directory relative to the workspace root.
	DirRepoSkills = ".copilot/skills"
)

// SettingModelsCache is the settings key holding the last good model list.
const SettingModelsCache = "models-cache.v1"

// DefaultThreadTitle is the title given to new threads.
const DefaultThreadTitle = "New conversation"
