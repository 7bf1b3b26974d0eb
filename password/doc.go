// Package password hashes and verifies account passwords.
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher] also verifies bcrypt hashes ($2a$, $2b$, $2y$) imported from the
// previous user store and reports them through [Hasher.NeedsRehash] so the
// caller can replace them after the next successful login.
//
// This package never stores or logs passwords; callers supply plaintext and
// receive hashes.
package password
