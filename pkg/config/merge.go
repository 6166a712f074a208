package config

// mergeProviders merges built-in and user-defined provider configurations.
// User-defined providers override built-ins of the same name.
func mergeProviders(builtin, user []ProviderConfig) []ProviderConfig {
	byName := make(map[string]ProviderConfig, len(builtin)+len(user))
	order := make([]string, 0, len(builtin)+len(user))

	for _, p := range builtin {
		byName[p.Name] = p
		order = append(order, p.Name)
	}
	for _, p := range user {
		if _, exists := byName[p.Name]; !exists {
			order = append(order, p.Name)
		}
		byName[p.Name] = p
	}

	result := make([]ProviderConfig, 0, len(order))
	for _, name := range order {
		result = append(result, byName[name])
	}
	return result
}
