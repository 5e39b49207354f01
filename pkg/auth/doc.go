/*
Package auth manages the registry's users.

The internal admin user and one user per client relation are stored in the
app-scoped peer data. Only the leader creates or rotates credentials;
every replica provisions them by rendering the auth file from that data:

	{
	  "users": [ ...karapace_mkpasswd output... ],
	  "permissions": [
	    {"username": "operator", "operation": "Write", "resource": ".*"},
	    {"username": "relation-5000", "operation": "Read", "resource": "Subject:orders"}
	  ]
	}

The hashing salt is stored next to the passwords so every replica renders
the same file, and the file is only rewritten when its content changes.
*/
package auth
