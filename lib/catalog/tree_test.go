/*
Copyright 2025 WillIsback

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTreeSelection(t *testing.T) {
	t.Parallel()

	tree := NewTree(fixture(t), nil)
	require.Len(t, tree.Roots, 2)

	// Selecting an environment selects its whole subtree.
	require.NoError(t, tree.Toggle("Prod"))
	selected := tree.Selected()
	require.Len(t, selected, 12)
	node, err := tree.Node("Prod")
	require.NoError(t, err)
	require.True(t, node.IsSelected())

	// Toggling again clears the subtree.
	require.NoError(t, tree.Toggle("Prod"))
	require.Empty(t, tree.Selected())

	// A single leaf toggles independently.
	require.NoError(t, tree.Toggle("Prod:Region-A:Public:HOST_01"))
	selected = tree.Selected()
	require.Len(t, selected, 1)
	require.Equal(t, "Prod:Region-A:Public:HOST_01", selected[0].Name)
	require.False(t, node.IsSelected())

	// Toggling the parent with a partial selection selects the rest.
	require.NoError(t, tree.Toggle("Prod:Region-A:Public"))
	require.Len(t, tree.Selected(), 3)

	tree.ClearSelection()
	require.Empty(t, tree.Selected())
}

func TestTreeExpansion(t *testing.T) {
	t.Parallel()

	tree := NewTree(fixture(t), nil)
	visibleAll := len(tree.Visible())

	require.NoError(t, tree.SetExpanded("Prod", false))
	require.Less(t, len(tree.Visible()), visibleAll)

	require.Error(t, tree.SetExpanded("Prod:Region-A:Public:HOST_01", false))
	_, err := tree.Node("NoSuch")
	require.Error(t, err)
}

func TestTreeOnlinePruning(t *testing.T) {
	t.Parallel()

	online := map[string]bool{
		"Prod:Region-A:Public:HOST_01": true,
		"Prod:Region-A:Public:HOST_02": true,
	}
	tree := NewTree(fixture(t), online)

	// Everything without an online leaf is pruned, including the whole
	// Stage environment.
	require.Len(t, tree.Roots, 1)
	require.Equal(t, "Prod", tree.Roots[0].Name)
	require.NoError(t, tree.Toggle("Prod"))
	require.Len(t, tree.Selected(), 2)
}
