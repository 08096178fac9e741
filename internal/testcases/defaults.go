package testcases

func strPtr(v string) *string { return &v }

// DefaultSet is written by SeedDefaults on an empty database.
var DefaultSet = []Input{
	{
		Name:        "Open Settings",
		Description: strPtr("Launch the Settings app from the home screen"),
		Instruction: "打开设置",
		Category:    "system",
	},
	{
		Name:        "Check Battery",
		Description: strPtr("Open Settings and read the battery level"),
		Instruction: "打开设置，查看电池电量",
		Category:    "system",
	},
	{
		Name:        "Wi-Fi Page",
		Description: strPtr("Navigate to the Wi-Fi settings page"),
		Instruction: "打开设置，进入无线局域网页面",
		Category:    "system",
	},
	{
		Name:        "Open Camera",
		Description: strPtr("Launch the Camera app"),
		Instruction: "打开相机",
		Category:    "app",
	},
	{
		Name:        "Safari Search",
		Description: strPtr("Search the weather in Safari"),
		Instruction: "打开Safari，搜索今天的天气",
		Category:    "app",
	},
	{
		Name:        "Back To Home",
		Description: strPtr("Return to the home screen"),
		Instruction: "返回主屏幕",
		Category:    "general",
	},
}
