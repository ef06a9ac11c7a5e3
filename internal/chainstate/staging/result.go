// Copyright 2024 The stacks-blockchain-go Authors
// This file is part of the stacks-blockchain-go library.
//
// The stacks-blockchain-go library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The stacks-blockchain-go library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the stacks-blockchain-go library. If not, see <http://www.gnu.org/licenses/>.

package staging

// PreprocessResult is the outcome of preprocess_anchored_block or
// preprocess_microblock (spec.md §4.2).
type PreprocessResult int

const (
	Accepted PreprocessResult = iota
	AlreadyPresent
	InvalidBurnLink
	BadSignature
	StaticRulesFailed
	ParentUnknown
)

func (r PreprocessResult) String() string {
	switch r {
	case Accepted:
		return "Accepted"
	case AlreadyPresent:
		return "AlreadyPresent"
	case InvalidBurnLink:
		return "InvalidBurnLink"
	case BadSignature:
		return "BadSignature"
	case StaticRulesFailed:
		return "StaticRulesFailed"
	case ParentUnknown:
		return "ParentUnknown"
	default:
		return "Unknown"
	}
}
